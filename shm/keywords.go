package shm

import (
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/nasa-jpl/gomilk/isio"
)

// ErrNoSuchKeyword is generated when updating a keyword that does not exist yet
var ErrNoSuchKeyword = errors.New("updating a keyword that does not exist yet")

// KeywordRetries bounds the rereads of a keyword annex that is being rewritten
var KeywordRetries uint64 = 10

// Entry is a keyword value with its comment
type Entry struct {
	Value   interface{}
	Comment string
}

// KeywordList returns the keywords in slot order.  Reads that race with a
// writer are retried a few times with a short backoff.
func (s *SHM) KeywordList() ([]Keyword, error) {
	img, err := s.image()
	if err != nil {
		return nil, err
	}
	var (
		kws   []Keyword
		final error
	)
	op := func() error {
		kws, final = img.Keywords()
		if errors.Is(final, isio.ErrKeywordsChanging) {
			return final
		}
		return nil // success, or a failure retrying will not fix
	}
	err = backoff.Retry(op, backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          2.,
		MaxInterval:         20 * time.Millisecond,
		MaxElapsedTime:      250 * time.Millisecond,
		Clock:               backoff.SystemClock}, KeywordRetries))
	if err != nil {
		return nil, err
	}
	return kws, final
}

// GetKeywords returns the keyword values by name
func (s *SHM) GetKeywords() (map[string]interface{}, error) {
	kws, err := s.KeywordList()
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(kws))
	for _, k := range kws {
		out[k.Name] = k.Value
	}
	return out, nil
}

// GetKeywordsWithComments returns the keyword values and comments by name
func (s *SHM) GetKeywordsWithComments() (map[string]Entry, error) {
	kws, err := s.KeywordList()
	if err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(kws))
	for _, k := range kws {
		out[k.Name] = Entry{Value: k.Value, Comment: k.Comment}
	}
	return out, nil
}

func (s *SHM) writeKeywords(kws []Keyword) error {
	img, err := s.image()
	if err != nil {
		return err
	}
	return img.SetKeywords(kws)
}

// SetKeywords merges kws into the annex.  Keywords that exist are replaced in
// place, comment included; new ones are appended in the given order.
func (s *SHM) SetKeywords(kws ...Keyword) error {
	cur, err := s.KeywordList()
	if err != nil {
		return err
	}
	index := make(map[string]int, len(cur))
	for i, k := range cur {
		index[k.Name] = i
	}
	for _, k := range kws {
		if i, ok := index[k.Name]; ok {
			cur[i] = k
			continue
		}
		index[k.Name] = len(cur)
		cur = append(cur, k)
	}
	return s.writeKeywords(cur)
}

// ResetKeywords replaces the whole annex with kws.  A name given twice keeps
// its last value at its first position.
func (s *SHM) ResetKeywords(kws ...Keyword) error {
	out := make([]Keyword, 0, len(kws))
	index := make(map[string]int, len(kws))
	for _, k := range kws {
		if i, ok := index[k.Name]; ok {
			out[i] = k
			continue
		}
		index[k.Name] = len(out)
		out = append(out, k)
	}
	return s.writeKeywords(out)
}

// UpdateKeyword changes the value of an existing keyword.  The comment is
// kept unless one is given.
func (s *SHM) UpdateKeyword(name string, value interface{}, comment ...string) error {
	cur, err := s.KeywordList()
	if err != nil {
		return err
	}
	for i, k := range cur {
		if k.Name != name {
			continue
		}
		cur[i].Value = value
		if len(comment) > 0 {
			cur[i].Comment = comment[0]
		}
		return s.writeKeywords(cur)
	}
	return errors.Wrapf(ErrNoSuchKeyword, "%s in %s", name, s.name)
}
