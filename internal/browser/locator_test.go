package browser

import (
	"reflect"
	"runtime"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocatorQuery(t *testing.T) {
	tests := []struct {
		name    string
		loc     Locator
		want    string
		byQuery bool
	}{
		{
			name:    "css passes through",
			loc:     Locator{Kind: ByCSS, Value: `input[type="file"]`},
			want:    `input[type="file"]`,
			byQuery: true,
		},
		{
			name: "xpath passes through",
			loc:  Locator{Kind: ByXPath, Value: "//header//button[2]"},
			want: "//header//button[2]",
		},
		{
			name: "text matches own text nodes",
			loc:  Locator{Kind: ByText, Value: "Splash Screen"},
			want: "//*[not(self::script or self::style)][text()[contains(normalize-space(.), 'Splash Screen')]]",
		},
		{
			name: "exact text",
			loc:  Locator{Kind: ByText, Value: "Web", Exact: true},
			want: "//*[not(self::script or self::style)][text()[normalize-space(.)='Web']]",
		},
		{
			name: "role without name",
			loc:  Locator{Kind: ByRole, Value: "tab"},
			want: "//*[@role='tab']",
		},
		{
			name: "implicit role with name",
			loc:  Locator{Kind: ByRole, Value: "Button", Name: "Preview"},
			want: "//*[self::button or (self::input and (@type='button' or @type='submit' or @type='reset')) or @role='button']" +
				"[contains(normalize-space(.), 'Preview') or contains(normalize-space(@aria-label), 'Preview')]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, by, err := tt.loc.Query()
			require.NoError(t, err)
			assert.Equal(t, tt.want, sel)
			assert.NotNil(t, by)
			if tt.byQuery {
				assert.Equal(t, funcName(chromedp.ByQuery), funcName(by))
			} else {
				assert.Equal(t, funcName(chromedp.BySearch), funcName(by))
			}
		})
	}
}

func TestLocatorQueryErrors(t *testing.T) {
	for _, loc := range []Locator{
		{Kind: ByCSS},
		{Kind: ByXPath},
		{Kind: ByText},
		{Kind: ByRole, Value: "  "},
		{Kind: "label", Value: "Name"},
	} {
		_, _, err := loc.Query()
		assert.Error(t, err, "locator %+v", loc)
	}
}

func TestLocatorString(t *testing.T) {
	assert.Equal(t, `role=button[name="Preview"]`, Locator{Kind: ByRole, Value: "button", Name: "Preview"}.String())
	assert.Equal(t, "role=tab", Locator{Kind: ByRole, Value: "tab"}.String())
	assert.Equal(t, "text=9:41", Locator{Kind: ByText, Value: "9:41"}.String())
	assert.Equal(t, "css=header button", Locator{Kind: ByCSS, Value: "header button"}.String())
}

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, "'plain'", xpathLiteral("plain"))
	assert.Equal(t, `"it's"`, xpathLiteral("it's"))
	assert.Equal(t, `concat('say "hi" it', "'", 's')`, xpathLiteral(`say "hi" it's`))
	assert.Equal(t, `concat("'", '"')`, xpathLiteral(`'"`))
}

func funcName(f interface{}) string {
	return runtime.FuncForPC(reflect.ValueOf(f).Pointer()).Name()
}
