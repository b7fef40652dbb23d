package docstore

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// frontMatter is the optional YAML header of a document.
type frontMatter struct {
	Title string   `yaml:"title"`
	Tags  []string `yaml:"tags"`
}

// parseFrontMatter extracts the YAML block delimited by "---" lines at the
// start of body. It returns false when there is none or it does not parse.
func parseFrontMatter(body []byte) (*frontMatter, bool) {
	body = bytes.TrimPrefix(body, []byte("\ufeff"))
	rest, ok := cutLine(body, "---")
	if !ok {
		return nil, false
	}
	var block []byte
	for len(rest) != 0 {
		line, next, _ := bytes.Cut(rest, []byte("\n"))
		if string(bytes.TrimRight(line, " \t\r")) == "---" {
			var fm frontMatter
			if err := yaml.Unmarshal(block, &fm); err != nil {
				return nil, false
			}
			return &fm, true
		}
		block = append(block, bytes.TrimSuffix(line, []byte("\r"))...)
		block = append(block, '\n')
		rest = next
	}
	return nil, false
}

// cutLine returns what follows the first line of b if that line is want.
func cutLine(b []byte, want string) ([]byte, bool) {
	line, rest, found := bytes.Cut(b, []byte("\n"))
	if !found || string(bytes.TrimRight(line, " \t\r")) != want {
		return nil, false
	}
	return rest, true
}
