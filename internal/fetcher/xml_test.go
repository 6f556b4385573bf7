package fetcher

import (
	"bytes"
	"context"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMember struct {
	XMLName   xml.Name `xml:"MemberOfParliament"`
	FirstName string   `xml:"PersonOfficialFirstName"`
	LastName  string   `xml:"PersonOfficialLastName"`
	Riding    string   `xml:"ConstituencyName"`
}

func collect[T any](t *testing.T, ch <-chan T, errCh <-chan error) ([]T, error) {
	t.Helper()
	var items []T
	for item := range ch {
		items = append(items, item)
	}
	var gotErr error
	for err := range errCh {
		if err != nil {
			gotErr = err
		}
	}
	return items, gotErr
}

func TestStreamXML_Members(t *testing.T) {
	input := `<ArrayOfMemberOfParliament>
		<MemberOfParliament>
			<PersonOfficialFirstName>Jane</PersonOfficialFirstName>
			<PersonOfficialLastName>Doe</PersonOfficialLastName>
			<ConstituencyName>Westmount</ConstituencyName>
		</MemberOfParliament>
		<Other>skip me</Other>
		<MemberOfParliament>
			<PersonOfficialFirstName>John</PersonOfficialFirstName>
			<PersonOfficialLastName>Roe</PersonOfficialLastName>
			<ConstituencyName>Burin--St. George's</ConstituencyName>
		</MemberOfParliament>
	</ArrayOfMemberOfParliament>`

	ch, errCh := StreamXML[testMember](context.Background(), strings.NewReader(input), "MemberOfParliament")
	items, err := collect(t, ch, errCh)
	require.NoError(t, err)

	require.Len(t, items, 2)
	assert.Equal(t, "Doe", items[0].LastName)
	assert.Equal(t, "Westmount", items[0].Riding)
	assert.Equal(t, "Burin--St. George's", items[1].Riding)
}

func TestStreamXML_EmptyInput(t *testing.T) {
	ch, errCh := StreamXML[testMember](context.Background(), strings.NewReader(""), "MemberOfParliament")
	items, err := collect(t, ch, errCh)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStreamXML_DecodeElementError(t *testing.T) {
	type strictItem struct {
		XMLName xml.Name `xml:"item"`
		Value   int      `xml:"value"`
	}

	input := `<root><item><value>not_a_number</value></item></root>`
	ch, errCh := StreamXML[strictItem](context.Background(), strings.NewReader(input), "item")
	items, err := collect(t, ch, errCh)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml: decode element")
	assert.Empty(t, items)
}

func TestStreamXML_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch, errCh := StreamXML[testMember](ctx, strings.NewReader("<root/>"), "MemberOfParliament")
	_, err := collect(t, ch, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context")
}

func TestNewXMLDecoder_Windows1252(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="windows-1252"?><Name>Qu`)
	buf.WriteByte(0xe9) // é in windows-1252
	buf.WriteString(`bec</Name>`)

	var v struct {
		Text string `xml:",chardata"`
	}
	require.NoError(t, NewXMLDecoder(&buf).Decode(&v))
	assert.Equal(t, "Québec", v.Text)
}

func TestNewXMLDecoder_UnknownCharset(t *testing.T) {
	r := strings.NewReader(`<?xml version="1.0" encoding="klingon"?><a/>`)
	var v struct{}
	err := NewXMLDecoder(r).Decode(&v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported charset")
}
