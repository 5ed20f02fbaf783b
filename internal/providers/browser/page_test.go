// File: internal/providers/browser/page_test.go
package browser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
)

const taggedPage = `<html><head><title>Shop</title><style>body{}</style></head><body>
<h1>Welcome</h1>
<p>Browse our catalogue below.</p>
<a href="/catalogue" data-pilot-ref="1">View catalogue</a>
<form>
<input type="text" name="q">
<input type="submit" value="Search" data-pilot-ref="2">
</form>
<button data-pilot-ref="3">Add to basket</button>
<script>console.log("hidden")</script>
</body></html>`

func TestRenderPageMarksClickables(t *testing.T) {
	t.Parallel()

	body, elements, err := renderPage(taggedPage)
	require.NoError(t, err)

	require.Len(t, elements, 3)
	assert.Equal(t, schemas.ElementRef{Ref: 1, Label: "View catalogue"}, elements[0])
	assert.Equal(t, schemas.ElementRef{Ref: 2, Label: "Search"}, elements[1])
	assert.Equal(t, schemas.ElementRef{Ref: 3, Label: "Add to basket"}, elements[2])

	assert.Contains(t, body, "<1> View catalogue")
	assert.Contains(t, body, "<2>")
	assert.Contains(t, body, "<3> Add to basket")
	assert.Contains(t, body, "Browse our catalogue below.")
	assert.NotContains(t, body, "console.log", "script content never renders")
	assert.NotContains(t, body, "body{}", "style content never renders")
}

func TestRenderPageUntaggedInputsAreNotElements(t *testing.T) {
	t.Parallel()

	_, elements, err := renderPage(`<body><input type="text" name="q"><a href="/x" data-pilot-ref="1">x</a></body>`)
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, 1, elements[0].Ref)
}

func TestRenderPageElementOrderFollowsRefs(t *testing.T) {
	t.Parallel()

	// DOM order and ref order can disagree after client-side reshuffling.
	_, elements, err := renderPage(
		`<body><a href="/b" data-pilot-ref="2">b</a><a href="/a" data-pilot-ref="1">a</a></body>`)
	require.NoError(t, err)
	require.Len(t, elements, 2)
	assert.Equal(t, 1, elements[0].Ref)
	assert.Equal(t, 2, elements[1].Ref)
}

func TestRenderPageUnlabeledElement(t *testing.T) {
	t.Parallel()

	_, elements, err := renderPage(`<body><a href="/x" data-pilot-ref="1"><img src="i.png"></a></body>`)
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, "[unlabeled]", elements[0].Label)
}

func TestRenderPageCollapsesWhitespace(t *testing.T) {
	t.Parallel()

	body, _, err := renderPage("<body><p>spaced   \n\t  out</p><p></p><p></p><p>next</p></body>")
	require.NoError(t, err)
	assert.Contains(t, body, "spaced out")
	assert.NotContains(t, body, "\n\n\n", "blank runs collapse to a single separator")
}

func TestVariantsReflectPageState(t *testing.T) {
	t.Parallel()

	p := New(config.BrowserConfig{ScreenshotDir: t.TempDir()}, zap.NewNop())

	// Fresh provider: nothing loaded, navigation only.
	variants := p.Variants()
	require.Len(t, variants, 1)
	assert.Equal(t, "navigate", variants[0].Name)

	// With a page and elements, click appears with the live enumeration and
	// screenshots become possible.
	p.mu.Lock()
	p.currentURL = "https://example.com"
	p.elements = []schemas.ElementRef{{Ref: 1, Label: "a"}, {Ref: 2, Label: "b"}}
	p.mu.Unlock()

	variants = p.Variants()
	require.Len(t, variants, 3)
	assert.Equal(t, "click", variants[1].Name)
	assert.Equal(t, []string{"1", "2"}, variants[1].Parameters[0].Enum)
	assert.Equal(t, "screenshot", variants[2].Name)
}

func TestClickRejectsStaleReference(t *testing.T) {
	t.Parallel()

	p := New(config.BrowserConfig{}, zap.NewNop())
	p.mu.Lock()
	p.elements = []schemas.ElementRef{{Ref: 1, Label: "only"}}
	p.mu.Unlock()

	_, err := p.Execute(context.Background(), &schemas.ChosenAction{
		Variant: "click",
		Params:  map[string]string{"element": "7"},
	})
	var execErr *schemas.ProviderExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Error(), "stale")
}

func TestExecuteUnsupportedVariant(t *testing.T) {
	t.Parallel()

	p := New(config.BrowserConfig{}, zap.NewNop())
	_, err := p.Execute(context.Background(), &schemas.ChosenAction{Variant: "scroll"})
	var execErr *schemas.ProviderExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestCloseWithoutSessionIsNoop(t *testing.T) {
	t.Parallel()

	p := New(config.BrowserConfig{}, zap.NewNop())
	assert.NoError(t, p.Close(context.Background()))
}
