package cmn

import "fmt"

const (
	KiB = 1024
	MiB = KiB * 1024
)

// B2S renders a byte count as a human-readable string with `digits` decimal
// places, e.g. B2S(10500, 1) => "10.3KiB". Used only in log lines.
func B2S(b int64, digits int) string {
	switch {
	case b >= MiB:
		return fmt.Sprintf("%.*fMiB", digits, float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.*fKiB", digits, float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", b)
	}
}
