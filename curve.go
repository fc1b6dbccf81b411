package cardwallet

import "github.com/pkg/errors"

// EllipticCurve identifies the curve of an on-card wallet. A card holds at most
// one wallet per curve.
type EllipticCurve int

const (
	CurveUnknown EllipticCurve = iota
	Secp256k1
	Ed25519
	Ed25519Slip0010
	Bls12381G2Aug
	Bip0340
	Secp256r1
)

var curveNames = map[EllipticCurve]string{
	Secp256k1:       "secp256k1",
	Ed25519:         "ed25519",
	Ed25519Slip0010: "ed25519_slip0010",
	Bls12381G2Aug:   "bls12381_g2_aug",
	Bip0340:         "bip0340",
	Secp256r1:       "secp256r1",
}

func (curve EllipticCurve) String() string {
	if name, ok := curveNames[curve]; ok {
		return name
	}
	return "unknown"
}

// ParseEllipticCurve maps a wire name back to its curve.
func ParseEllipticCurve(name string) (EllipticCurve, error) {
	for curve, curveName := range curveNames {
		if curveName == name {
			return curve, nil
		}
	}
	return CurveUnknown, errors.Errorf("unknown curve %q", name)
}

func (curve EllipticCurve) MarshalText() ([]byte, error) {
	return []byte(curve.String()), nil
}

func (curve *EllipticCurve) UnmarshalText(text []byte) error {
	parsed, err := ParseEllipticCurve(string(text))
	if err != nil {
		return err
	}
	*curve = parsed
	return nil
}

func containsCurve(curves []EllipticCurve, curve EllipticCurve) bool {
	for _, c := range curves {
		if c == curve {
			return true
		}
	}
	return false
}
