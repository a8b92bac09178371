package importer

import (
	"sort"
	"strings"
)

// Classifier partitions spreadsheet column headers into aggregate columns
// and location-specific columns, anchored on the configured whitelist of
// location codes. It never guesses from arbitrary numeric content.
type Classifier struct {
	codes     []string
	aggregate string
}

// NewClassifier builds a Classifier. An empty whitelist is a configuration
// error: the caller must fail before any row processing starts.
func NewClassifier(codes []string, aggregateCode string) (*Classifier, error) {
	cleaned := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code != "" {
			cleaned = append(cleaned, code)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrNoLocationCodes
	}
	// Longest code first so e.g. "8101" is never shadowed by a shorter
	// code that happens to be its substring.
	sort.Slice(cleaned, func(i, j int) bool { return len(cleaned[i]) > len(cleaned[j]) })
	return &Classifier{codes: cleaned, aggregate: aggregateCode}, nil
}

// AggregateCode returns the sentinel used for company-wide columns.
func (c *Classifier) AggregateCode() string {
	return c.aggregate
}

// Classify maps every header to either the aggregate sentinel or the
// location code embedded in it. Every header is classified exactly once;
// headers without a whitelisted code default to aggregate.
func (c *Classifier) Classify(headers []string) map[string]string {
	out := make(map[string]string, len(headers))
	for _, header := range headers {
		out[header] = c.classifyOne(header)
	}
	return out
}

func (c *Classifier) classifyOne(header string) string {
	lower := strings.ToLower(header)
	for _, code := range c.codes {
		if containsCode(lower, strings.ToLower(code)) {
			return code
		}
	}
	return c.aggregate
}

// containsCode reports whether code occurs in s as a standalone numeric
// token, i.e. not embedded in a longer digit run such as a year or an
// unrelated account number.
func containsCode(s, code string) bool {
	for start := 0; ; {
		idx := strings.Index(s[start:], code)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(code)
		beforeOK := idx == 0 || !isDigit(s[idx-1])
		afterOK := end == len(s) || !isDigit(s[end])
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
