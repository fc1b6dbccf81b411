package cardwallet

// ScanResponse is everything learned about a card during one scan.
type ScanResponse struct {
	Card        *Card
	ProductType ProductType
	DerivedKeys DerivedKeys
	PrimaryCard *PrimaryCard
}

type scanState int

const (
	scanReadCard scanState = iota
	scanReadPrimary
	scanDeriveKeys
	scanDone
)

// scanTask reads a card and derives the keys for the requested tokens. Cards
// that may still become a primary also hand out their primary card token.
type scanTask struct {
	queries []TokenQuery
	filter  PreflightReadFilter

	state       scanState
	read        readCardTask
	readPrimary *readPrimaryTask
	derive      *deriveTask
	scan        ScanResponse
}

// newScanTask scans for queries; nil queries use the card's defaults.
func newScanTask(queries []TokenQuery, filter PreflightReadFilter) *scanTask {
	return &scanTask{queries: queries, filter: filter, read: readCardTask{filter: filter}}
}

func (t *scanTask) next(response any) (request, error) {

	for {
		var current task
		switch t.state {
		case scanReadCard:
			current = &t.read
		case scanReadPrimary:
			current = t.readPrimary
		case scanDeriveKeys:
			current = t.derive
		default:
			return nil, nil
		}

		req, err := current.next(response)
		if err != nil || req != nil {
			return req, err
		}

		t.advance()
		response = nil
	}
}

func (t *scanTask) advance() {

	switch t.state {

	case scanReadCard:
		card := t.read.card
		config := CardConfigFor(card)
		t.scan = ScanResponse{Card: card, ProductType: config.ProductType()}

		if card.Settings.IsBackupAllowed && card.BackupStatus == BackupStatusNoBackup && len(card.Wallets) > 0 {
			t.readPrimary = &readPrimaryTask{}
			t.state = scanReadPrimary
			return
		}
		t.deriveKeys()

	case scanReadPrimary:
		t.scan.PrimaryCard = &t.readPrimary.primary
		t.deriveKeys()

	case scanDeriveKeys:
		t.scan.DerivedKeys = t.derive.derived
		t.state = scanDone
	}
}

func (t *scanTask) deriveKeys() {

	card := t.scan.Card
	if !card.Settings.IsHDWalletAllowed || len(card.Wallets) == 0 {
		t.state = scanDone
		return
	}

	config := CardConfigFor(card)
	queries := t.queries
	if queries == nil {
		queries = config.DefaultTokenQueries()
	}

	derivations := CollectDerivations(config, card, queries)
	if len(derivations) == 0 {
		t.state = scanDone
		return
	}

	t.derive = newDeriveTask(derivations)
	t.state = scanDeriveKeys
}
