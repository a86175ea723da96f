package render

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/flipbook/internal/document/documenttest"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		page int
		want string
	}{
		{
			name: "drops page number and footer",
			in:   "Chapter one begins\nhere with a story.\n7\nCopyright 2024 Someone",
			page: 7,
			want: "Chapter one begins here with a story.",
		},
		{
			name: "keeps sentence boundaries",
			in:   "First sentence.\nSecond sentence.",
			page: 1,
			want: "First sentence.\nSecond sentence.",
		},
		{
			name: "joins hyphenated wrap",
			in:   "An extra-\nordinary day.",
			page: 2,
			want: "An extraordinary day.",
		},
		{
			name: "drops symbol noise",
			in:   "* * *\nText follows.",
			page: 3,
			want: "Text follows.",
		},
		{
			name: "short and upper-case lines kept inside the page",
			in:   "RUNNING HEAD\nCHAPTER ONE\nHi\nShe said hello.\nOK\nThe end.\nCONFIDENTIAL",
			page: 4,
			want: "CHAPTER ONE\nHi\nShe said hello.\nOK\nThe end.",
		},
		{
			name: "footer above page number",
			in:   "Body text.\nACME REPORT\n9",
			page: 9,
			want: "Body text.",
		},
		{
			name: "empty",
			in:   "\n\n",
			page: 1,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in, tt.page))
		})
	}
}

func TestRendererText(t *testing.T) {
	h := documenttest.Handle("a.pdf", documenttest.New(3))
	text, err := New(Options{}, nil).Text(context.Background(), h, 2)
	require.NoError(t, err)
	assert.Equal(t, "The quick brown fox jumps over the lazy dog on page 2.", text)

	_, err = New(Options{}, nil).Text(context.Background(), h, 9)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}
