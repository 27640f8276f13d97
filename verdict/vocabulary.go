package verdict

import (
	"errors"
	"fmt"
	"strings"
)

// Default label sets of the models the prototype shipped with.
var (
	DefaultTextAuthentic  = []string{"TRUE"}
	DefaultTextSynthetic  = []string{"FAKE"}
	DefaultImageAuthentic = []string{"real"}
	DefaultImageSynthetic = []string{"sd", "dalle"}
)

// Vocabulary is the complete label set a backend may answer with, split into
// authentic and synthetic labels. Matching ignores case and surrounding space.
type Vocabulary struct {
	authentic map[string]struct{}
	synthetic map[string]struct{}
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

func NewVocabulary(authentic, synthetic []string) (Vocabulary, error) {
	v := Vocabulary{
		authentic: make(map[string]struct{}, len(authentic)),
		synthetic: make(map[string]struct{}, len(synthetic)),
	}
	for _, l := range authentic {
		if n := normalizeLabel(l); n != "" {
			v.authentic[n] = struct{}{}
		}
	}
	for _, l := range synthetic {
		n := normalizeLabel(l)
		if n == "" {
			continue
		}
		if _, dup := v.authentic[n]; dup {
			return Vocabulary{}, fmt.Errorf("label %q is both authentic and synthetic", l)
		}
		v.synthetic[n] = struct{}{}
	}
	if len(v.authentic) == 0 || len(v.synthetic) == 0 {
		return Vocabulary{}, errors.New("vocabulary needs at least one authentic and one synthetic label")
	}
	return v, nil
}

// IsSynthetic tells whether label denotes generated content. A label outside
// the vocabulary is a contract violation.
func (v Vocabulary) IsSynthetic(label string) (bool, error) {
	n := normalizeLabel(label)
	if _, ok := v.synthetic[n]; ok {
		return true, nil
	}
	if _, ok := v.authentic[n]; ok {
		return false, nil
	}
	return false, fmt.Errorf("%w: unknown label %q", ErrContractViolation, label)
}
