package harvest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyKind identifies which remote resource a WorkKey addresses.
type KeyKind string

// Key kinds, one per fetchable resource shape.
const (
	KindCaseList KeyKind = "case_list"
	KindCase     KeyKind = "case"
	KindArgument KeyKind = "argument"
	KindAudio    KeyKind = "audio"
)

// WorkKey is the stable identifier for one fetchable resource. The same
// logical resource always yields the same key; the canonical String form is
// used for cache addressing and tracker bookkeeping.
type WorkKey struct {
	Kind   KeyKind
	Term   string
	Docket string
	Page   int
	URL    string
}

// CaseListKey addresses one page of the term listing endpoint.
func CaseListKey(term string, page int) WorkKey {
	return WorkKey{Kind: KindCaseList, Term: term, Page: page}
}

// CaseKey addresses the detail endpoint for a term/docket pair.
func CaseKey(term, docket string) WorkKey {
	return WorkKey{Kind: KindCase, Term: term, Docket: docket}
}

// ArgumentKey addresses an oral argument document by its href.
func ArgumentKey(url string) WorkKey {
	return WorkKey{Kind: KindArgument, URL: url}
}

// AudioKey addresses a binary audio resource by its media URL.
func AudioKey(url string) WorkKey {
	return WorkKey{Kind: KindAudio, URL: url}
}

// String returns the canonical identifier for the key.
func (k WorkKey) String() string {
	switch k.Kind {
	case KindCaseList:
		return fmt.Sprintf("%s/%s/page/%d", k.Kind, k.Term, k.Page)
	case KindCase:
		return fmt.Sprintf("%s/%s/%s", k.Kind, k.Term, k.Docket)
	default:
		return fmt.Sprintf("%s/%s", k.Kind, k.URL)
	}
}

// Slug returns a filesystem-safe form of the canonical identifier. Slashes
// and URL metacharacters collapse to dashes so repeated runs map a key to
// the same inspectable path; a short digest of the canonical form keeps keys
// that differ only in collapsed separators from sharing a path.
func (k WorkKey) Slug() string {
	id := k.String()
	r := strings.NewReplacer("/", "-", ":", "-", "?", "-", "&", "-", "=", "-", "#", "-")
	s := r.Replace(id)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	sum := sha256.Sum256([]byte(id))
	return strings.Trim(s, "-") + "-" + hex.EncodeToString(sum[:4])
}

// IsZero reports whether the key is the zero value.
func (k WorkKey) IsZero() bool {
	return k.Kind == ""
}
