package scanning

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeStructuredBackend struct {
	response string
	err      error
	calls    int
	lastPNG  []byte
	closed   bool
}

func (f *fakeStructuredBackend) Name() string { return "fake" }

func (f *fakeStructuredBackend) GenerateJSON(_ context.Context, png []byte) (string, error) {
	f.calls++
	f.lastPNG = png
	return f.response, f.err
}

func (f *fakeStructuredBackend) Close() error {
	f.closed = true
	return nil
}

type fakeRecognizer struct {
	text  string
	err   error
	calls int
}

func (f *fakeRecognizer) Name() string { return "fake-ocr" }

func (f *fakeRecognizer) RecognizeText(_ context.Context, _ []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

func (f *fakeRecognizer) Close() error { return nil }

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func testPNG() []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, testImage())).To(Succeed())
	return buf.Bytes()
}

func testJPEG() []byte {
	var buf bytes.Buffer
	Expect(jpeg.Encode(&buf, testImage(), nil)).To(Succeed())
	return buf.Bytes()
}

var pngSignature = []byte{0x89, 'P', 'N', 'G'}

var _ = Describe("toPNG", func() {
	It("passes PNG bytes through untouched", func() {
		in := testPNG()
		out, err := toPNG(in, "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(in))
	})

	It("re-encodes JPEG as PNG", func() {
		out, err := toPNG(testJPEG(), "image/jpeg; charset=binary")
		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.HasPrefix(out, pngSignature)).To(BeTrue())
	})

	It("rejects an empty payload", func() {
		_, err := toPNG(nil, "image/png")
		Expect(err).To(MatchError(ContainSubstring("empty image payload")))
	})

	It("rejects bytes that are not an image", func() {
		_, err := toPNG([]byte("definitely not an image"), "image/webp")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("StructuredExtractor", func() {
	var (
		backend     *fakeStructuredBackend
		extractor   *StructuredExtractor
		draft       *ReceiptDraft
		err         error
		input       []byte
		contentType string
	)

	BeforeEach(func() {
		backend = &fakeStructuredBackend{}
		extractor = NewStructuredExtractor(backend)
		extractor.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
		input = testPNG()
		contentType = "image/png"
	})

	JustBeforeEach(func() {
		draft, err = extractor.Extract(context.Background(), input, contentType)
	})

	When("the backend answers with a valid draft", func() {
		BeforeEach(func() {
			backend.response = `{"description": "Cafe", "date": "2024-03-14", "total_amount": 4.00, "items": [{"description": "Coffee", "amount": 3.50}]}`
		})

		It("returns the decoded draft", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(draft.Description).To(Equal("Cafe"))
			Expect(draft.Items).To(HaveLen(1))
		})

		It("sends PNG bytes to the backend", func() {
			Expect(backend.lastPNG).To(Equal(input))
		})
	})

	When("the backend fails", func() {
		BeforeEach(func() {
			backend.err = errors.New("503 from upstream")
		})

		It("wraps the failure as an extraction failure", func() {
			Expect(err).To(MatchError(ErrExtractionFailed))
			Expect(err.Error()).To(ContainSubstring("503 from upstream"))
			Expect(draft).To(BeNil())
		})
	})

	When("the backend answers with prose", func() {
		BeforeEach(func() {
			backend.response = "I could not read this receipt, sorry."
		})

		It("reports an extraction failure", func() {
			Expect(err).To(MatchError(ErrExtractionFailed))
		})
	})

	When("the upload cannot be decoded", func() {
		BeforeEach(func() {
			input = []byte("garbage")
			contentType = "image/jpeg"
		})

		It("never calls the backend", func() {
			Expect(err).To(MatchError(ErrExtractionFailed))
			Expect(err).To(MatchError(errUnreadableImage))
			Expect(backend.calls).To(BeZero())
		})
	})

	It("closes the backend", func() {
		Expect(extractor.Close()).To(Succeed())
		Expect(backend.closed).To(BeTrue())
	})
})

var _ = Describe("TextExtractor", func() {
	var (
		recognizer *fakeRecognizer
		extractor  *TextExtractor
		draft      *ReceiptDraft
		err        error
	)

	BeforeEach(func() {
		recognizer = &fakeRecognizer{}
		extractor = NewTextExtractor(recognizer)
		extractor.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	})

	JustBeforeEach(func() {
		draft, err = extractor.Extract(context.Background(), testPNG(), "image/png")
	})

	When("text is recognized", func() {
		BeforeEach(func() {
			recognizer.text = "Corner Cafe\n03/14/2024\nCoffee $3.50\nTax $0.50\nTotal $4.00\n"
		})

		It("parses it heuristically", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(draft.Description).To(Equal("Corner Cafe"))
			Expect(draft.TotalAmount.StringFixed(2)).To(Equal("4.00"))
			Expect(draft.Items).To(HaveLen(2))
		})
	})

	When("nothing is recognized", func() {
		BeforeEach(func() {
			recognizer.text = "  \n "
		})

		It("reports an extraction failure", func() {
			Expect(err).To(MatchError(ErrExtractionFailed))
		})
	})

	When("the recognizer fails", func() {
		BeforeEach(func() {
			recognizer.err = errors.New("connection refused")
		})

		It("reports an extraction failure", func() {
			Expect(err).To(MatchError(ErrExtractionFailed))
			Expect(draft).To(BeNil())
		})
	})
})
