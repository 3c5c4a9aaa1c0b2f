package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lgeiger/newsharvest/internal/harvest"
)

func TestArticleTextConcatenatesParagraphs(t *testing.T) {
	t.Parallel()

	body := `<html><body>
		<div class="c-article-content js-article-content article__content">
			<p>First paragraph.</p>
			<p> Second paragraph. </p>
			<p></p>
		</div>
		<div class="sidebar"><p>Unrelated text.</p></div>
	</body></html>`

	e := NewEuronewsExtractor()
	text, err := e.ArticleText(harvest.Page{Body: []byte(body)})
	require.NoError(t, err)
	require.Equal(t, "First paragraph.\nSecond paragraph.", text)
}

func TestArticleTextEmptyWhenNoContentContainer(t *testing.T) {
	t.Parallel()

	e := NewEuronewsExtractor()
	text, err := e.ArticleText(harvest.Page{Body: []byte(`<html><body><p>loose</p></body></html>`)})
	require.NoError(t, err)
	require.Empty(t, text)
}
