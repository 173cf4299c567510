package fetcher

import (
	"context"
	"encoding/xml"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	XMLName xml.Name `xml:"item"`
	Name    string   `xml:"name"`
	Value   int      `xml:"value"`
}

func collect(t *testing.T, input, element string) ([]testItem, error) {
	t.Helper()
	var items []testItem
	err := EachXMLElement(context.Background(), strings.NewReader(input), element, func(it testItem) error {
		items = append(items, it)
		return nil
	})
	return items, err
}

func TestEachXMLElement_SimpleElements(t *testing.T) {
	input := `<root>
		<item><name>alpha</name><value>1</value></item>
		<other>skip me</other>
		<item><name>beta</name><value>2</value></item>
	</root>`

	items, err := collect(t, input, "item")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "alpha", items[0].Name)
	assert.Equal(t, 2, items[1].Value)
}

type nsHolding struct {
	Issuer string `xml:"nameOfIssuer"`
	Shares int64  `xml:"shrsOrPrnAmt>sshPrnamt"`
}

func TestEachXMLElement_Namespaced(t *testing.T) {
	input := `<?xml version="1.0" encoding="UTF-8"?>
<ns1:informationTable xmlns:ns1="http://www.sec.gov/edgar/document/thirteenf/informationtable">
  <ns1:infoTable>
    <ns1:nameOfIssuer>APPLE INC</ns1:nameOfIssuer>
    <ns1:shrsOrPrnAmt><ns1:sshPrnamt>400000000</ns1:sshPrnamt></ns1:shrsOrPrnAmt>
  </ns1:infoTable>
</ns1:informationTable>`

	var got []nsHolding
	err := EachXMLElement(context.Background(), strings.NewReader(input), "infoTable", func(h nsHolding) error {
		got = append(got, h)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "APPLE INC", got[0].Issuer)
	assert.Equal(t, int64(400000000), got[0].Shares)
}

func TestEachXMLElement_Charset(t *testing.T) {
	input := `<?xml version="1.0" encoding="ISO-8859-1"?><root><item><name>caf` + "\xe9" + `</name></item></root>`

	items, err := collect(t, input, "item")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "café", items[0].Name)
}

func TestEachXMLElement_Malformed(t *testing.T) {
	_, err := collect(t, `<root><item><name>x</name>`, "item")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml:")
}

func TestEachXMLElement_CallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := EachXMLElement(context.Background(), strings.NewReader(`<r><item/><item/></r>`), "item", func(testItem) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestEachXMLElement_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := EachXMLElement(ctx, strings.NewReader(`<r><item/></r>`), "item", func(testItem) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
}
