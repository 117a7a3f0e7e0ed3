package scanning

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sony/gobreaker/v2"
)

type scriptedExtractor struct {
	errs  []error
	calls int
}

func (s *scriptedExtractor) Extract(_ context.Context, _ []byte, _ string) (*ReceiptDraft, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &ReceiptDraft{Description: "ok"}, nil
}

func (s *scriptedExtractor) Close() error { return nil }

var _ = Describe("Guard", func() {
	var next *scriptedExtractor

	BeforeEach(func() {
		next = &scriptedExtractor{}
	})

	It("passes through when nothing is configured", func() {
		g := Guard(next, GuardConfig{})
		draft, err := g.Extract(context.Background(), nil, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(draft.Description).To(Equal("ok"))
		Expect(next.calls).To(Equal(1))
	})

	When("the backend keeps failing", func() {
		var g Extractor

		BeforeEach(func() {
			failure := extractionError("fake", errors.New("boom"))
			next.errs = []error{failure, failure, failure}
			g = Guard(next, GuardConfig{Name: "test", FailureThreshold: 2, OpenTimeout: time.Minute})
		})

		It("opens after the threshold and stops calling the backend", func() {
			for i := 0; i < 2; i++ {
				_, err := g.Extract(context.Background(), nil, "")
				Expect(err).To(MatchError(ErrExtractionFailed))
			}
			_, err := g.Extract(context.Background(), nil, "")
			Expect(err).To(MatchError(ErrExtractionFailed))
			Expect(err).To(MatchError(gobreaker.ErrOpenState))
			Expect(next.calls).To(Equal(2))
		})
	})

	When("failures come from unreadable uploads", func() {
		It("does not trip the breaker", func() {
			bad := extractionError("fake", errUnreadableImage)
			next.errs = []error{bad, bad, bad}
			g := Guard(next, GuardConfig{FailureThreshold: 2, OpenTimeout: time.Minute})
			for i := 0; i < 4; i++ {
				_, _ = g.Extract(context.Background(), nil, "")
			}
			Expect(next.calls).To(Equal(4))
		})
	})

	When("the rate limit is exhausted", func() {
		It("fails once the context is done instead of waiting", func() {
			g := Guard(next, GuardConfig{RequestsPerMinute: 1, Burst: 1})
			_, err := g.Extract(context.Background(), nil, "")
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err = g.Extract(ctx, nil, "")
			Expect(err).To(MatchError(ErrExtractionFailed))
			Expect(next.calls).To(Equal(1))
		})
	})
})
