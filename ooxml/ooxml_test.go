package ooxml

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minios-linux/doctrans/docformat"
)

func buildPackage(t *testing.T, parts map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range parts {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractDocx(t *testing.T) {
	data := buildPackage(t, map[string]string{
		DocumentPart: `<w:document xmlns:w="w"><w:body>` +
			`<w:p><w:r><w:t>Hello &amp; welcome</w:t></w:r></w:p>` +
			`<w:p><w:r><w:t>こんにちは</w:t><w:tab/><w:t>世界</w:t></w:r></w:p>` +
			`<w:p><w:r><w:instrText>PAGE</w:instrText></w:r></w:p>` +
			`</w:body></w:document>`,
	})
	zr, err := OpenBytes(data)
	require.NoError(t, err)

	text, err := Extract(zr, docformat.DOCX, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Hello & welcome\nこんにちは\t世界", text)
}

func TestExtractXlsxSharedAndInlineStrings(t *testing.T) {
	data := buildPackage(t, map[string]string{
		SharedStringsPart: `<sst><si><t>Revenue</t></si><si><r><t>Cost</t></r></si></sst>`,
		"xl/worksheets/sheet1.xml": `<worksheet><sheetData><row>` +
			`<c t="s"><v>0</v></c>` +
			`<c t="inlineStr"><is><t>Inline</t></is></c>` +
			`<c><f>SUM(A1:A2)</f><v>42</v></c>` +
			`</row></sheetData></worksheet>`,
	})
	zr, err := OpenBytes(data)
	require.NoError(t, err)

	text, err := Extract(zr, docformat.XLSX, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Revenue\nCost\nInline", text)
}

func TestExtractSkipsPhoneticGuides(t *testing.T) {
	data := buildPackage(t, map[string]string{
		SharedStringsPart: `<sst><si><t>東京</t><rPh sb="0" eb="2"><t>トウキョウ</t></rPh><phoneticPr fontId="1"/></si></sst>`,
		"xl/worksheets/sheet1.xml": `<worksheet><sheetData><row>` +
			`<c t="inlineStr"><is><t>大阪</t><rPh sb="0" eb="2"><t>オオサカ</t></rPh></is></c>` +
			`</row></sheetData></worksheet>`,
	})
	zr, err := OpenBytes(data)
	require.NoError(t, err)
	text, err := Extract(zr, docformat.XLSX, Options{})
	require.NoError(t, err)
	assert.Equal(t, "東京\n大阪", text)

	data = buildPackage(t, map[string]string{
		DocumentPart: `<w:document xmlns:w="w"><w:body><w:p>` +
			`<w:r><w:ruby><w:rt><w:r><w:t>かんじ</w:t></w:r></w:rt>` +
			`<w:rubyBase><w:r><w:t>漢字</w:t></w:r></w:rubyBase></w:ruby></w:r>` +
			`</w:p></w:body></w:document>`,
	})
	zr, err = OpenBytes(data)
	require.NoError(t, err)
	text, err = Extract(zr, docformat.DOCX, Options{})
	require.NoError(t, err)
	assert.Equal(t, "漢字", text)
}

func TestExtractPptxOrderAndNotes(t *testing.T) {
	data := buildPackage(t, map[string]string{
		"ppt/slides/slide10.xml":           `<p:sld><a:p><a:r><a:t>Ten</a:t></a:r></a:p></p:sld>`,
		"ppt/slides/slide2.xml":            `<p:sld><a:p><a:r><a:t>Two</a:t></a:r></a:p></p:sld>`,
		"ppt/slides/_rels/slide2.xml.rels": `<Relationships/>`,
		"ppt/notesSlides/notesSlide1.xml":  `<p:notes><a:p><a:r><a:t>Note</a:t></a:r></a:p></p:notes>`,
	})
	zr, err := OpenBytes(data)
	require.NoError(t, err)

	text, err := Extract(zr, docformat.PPTX, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Two\nTen", text)

	text, err = Extract(zr, docformat.PPTX, Options{IncludeNotes: true})
	require.NoError(t, err)
	assert.Equal(t, "Two\nTen\nNote", text)
}

func TestExtractMissingPartsContributeNothing(t *testing.T) {
	data := buildPackage(t, map[string]string{"docProps/app.xml": `<Properties/>`})
	zr, err := OpenBytes(data)
	require.NoError(t, err)

	for _, f := range []docformat.Format{docformat.DOCX, docformat.XLSX, docformat.PPTX} {
		text, err := Extract(zr, f, Options{})
		require.NoError(t, err, f)
		assert.Empty(t, text, f)
	}

	_, err = Extract(zr, docformat.PDF, Options{})
	assert.Error(t, err)
}

func TestStripMarkupMalformedFallsBack(t *testing.T) {
	got := StripMarkup([]byte(`<w:t>A &lt;b&gt;</w:t><broken`))
	assert.Contains(t, got, "A <b>")
}

func TestWriteDocxRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	text := "第一段落 <tag> & more\n\nSecond\tline"
	require.NoError(t, WriteDocx(&buf, text, DocxOptions{EastAsiaFont: "Yu Mincho"}))
	assert.True(t, LooksLikePackage(buf.Bytes()))

	zr, err := OpenBytes(buf.Bytes())
	require.NoError(t, err)
	got, err := Extract(zr, docformat.DOCX, Options{})
	require.NoError(t, err)
	assert.Equal(t, "第一段落 <tag> & more\nSecond\tline", got)

	_, err = ReadPart(zr, "[Content_Types].xml")
	assert.NoError(t, err)
}

func TestOpenBytesRejectsGarbage(t *testing.T) {
	_, err := OpenBytes([]byte("not a zip"))
	assert.Error(t, err)
	assert.False(t, LooksLikePackage([]byte("%PDF-1.7")))
}
