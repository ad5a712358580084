package document

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
)

// Marshal serializes the document as YAML with two-space indentation. A non-empty
// comment is written first, each line prefixed with "# " unless it already is a
// comment.
func (d *Document) Marshal(comment string) ([]byte, error) {
	var buf bytes.Buffer
	if comment != "" {
		for _, line := range strings.Split(strings.TrimRight(comment, "\n"), "\n") {
			if !strings.HasPrefix(line, "#") {
				line = "# " + line
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.root); err != nil {
		_ = enc.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryDocument, "cannot encode document").Build()
	}
	if err := enc.Close(); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryDocument, "cannot encode document").Build()
	}
	return buf.Bytes(), nil
}

// Fingerprint returns the hex BLAKE3 digest of the serialized document. Equal
// fingerprints mean byte-identical output files.
func (d *Document) Fingerprint() (string, error) {
	data, err := d.Marshal("")
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
