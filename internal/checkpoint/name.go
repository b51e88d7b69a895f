package checkpoint

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Extension is appended to every checkpoint file name.
const Extension = ".ckpt"

// ErrUnknownField is returned by Format for a placeholder with no value.
var ErrUnknownField = errors.New("checkpoint: unknown template field")

// Format renders a file name template. Placeholders take the form
// {name} or {name:spec}, where spec is a printf verb without the percent
// sign, and render as name=value:
//
//	Format("vqtokenizer-{epoch:02d}-{val_total_loss:.4f}", 3, map[string]float64{"val_total_loss": 0.12341})
//	// "vqtokenizer-epoch=03-val_total_loss=0.1234"
//
// The epoch field is an integer; every other field is looked up in metrics.
func Format(template string, epoch int, metrics map[string]float64) (string, error) {
	var b strings.Builder
	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", errors.Errorf("checkpoint: unclosed placeholder in %q", template)
		}
		b.WriteString(rest[:open])

		field, spec, _ := strings.Cut(rest[open+1:open+end], ":")
		var value string
		switch {
		case field == "epoch":
			value = fmt.Sprintf("%"+defaultSpec(spec, "d"), epoch)
		default:
			v, ok := metrics[field]
			if !ok {
				return "", errors.Wrap(ErrUnknownField, field)
			}
			if strings.HasSuffix(spec, "d") {
				value = fmt.Sprintf("%"+spec, int64(v))
			} else {
				value = fmt.Sprintf("%"+defaultSpec(spec, "v"), v)
			}
		}
		b.WriteString(field + "=" + value)
		rest = rest[open+end+1:]
	}
}

func defaultSpec(spec, verb string) string {
	if spec == "" {
		return verb
	}
	return spec
}
