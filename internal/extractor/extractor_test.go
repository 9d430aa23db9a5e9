package extractor

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"skkn-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// body builds a detailed solution body of roughly n runes with step markers.
func body(section, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.1. Mục tiêu của giải pháp\n\n", section)
	for i := 1; utf8.RuneCountInString(b.String()) < n; i++ {
		fmt.Fprintf(&b, "Bước %d: Giáo viên tổ chức cho học sinh thảo luận nhóm và trình bày kết quả.\n\n", i)
	}
	return b.String()
}

const outline = `I. ĐẶT VẤN ĐỀ
IV. GIẢI PHÁP THỰC HIỆN
   GIẢI PHÁP 1: Trò chơi khởi động
   GIẢI PHÁP 2: Học tập theo trạm
   GIẢI PHÁP 3: Dự án nhỏ

**Bạn có muốn chỉnh sửa dàn ý không?**`

func TestExtractScenarioOutlineVersusBody(t *testing.T) {
	mention := "GIẢI PHÁP 2: Học tập theo trạm ở lớp 6"
	detail := "GIẢI PHÁP 2 - Tổ chức học tập theo trạm\n\n" + body(2, 900)
	doc := "Dàn ý\n" + mention + "\nGIẢI PHÁP 3: Dự án\n\n---\n\n" + detail + "\n\n---\n\nPHẦN V. KẾT QUẢ\n"

	got, err := Extract(doc, 2)
	require.NoError(t, err)
	assert.Equal(t, "detailed-mention", got.Strategy)
	assert.True(t, strings.HasPrefix(got.Text, "GIẢI PHÁP 2 - Tổ chức"))
	assert.Equal(t, strings.TrimSpace(detail), got.Text)
	assert.NotContains(t, got.Text, "lớp 6")
	assert.Equal(t, doc[got.StartOffset:got.EndOffset], got.Text)
}

func TestExtractHeadingAfterOutline(t *testing.T) {
	sol1 := "## GIẢI PHÁP 1: Trò chơi khởi động\n\n" + body(1, 700) + "\n**KẾT THÚC GIẢI PHÁP 1**"
	sol2 := "## GIẢI PHÁP 2: Học tập theo trạm\n\n" + body(2, 700) + "\n**KẾT THÚC GIẢI PHÁP 2**"
	doc := outline + "\n\n---\n\nPHẦN I. ĐẶT VẤN ĐỀ\n...\n\n---\n\n" + sol1 + "\n\n---\n\n" + sol2 + "\n"

	t.Run("first section ends at its marker", func(t *testing.T) {
		got, err := Extract(doc, 1)
		require.NoError(t, err)
		assert.Equal(t, "heading", got.Strategy)
		assert.Equal(t, sol1, got.Text)
	})

	t.Run("second section", func(t *testing.T) {
		got, err := Extract(doc, 2)
		require.NoError(t, err)
		assert.Equal(t, sol2, got.Text)
		assert.Equal(t, strings.Index(doc, "## GIẢI PHÁP 2"), got.StartOffset)
	})

	t.Run("idempotent", func(t *testing.T) {
		a, err := Extract(doc, 2)
		require.NoError(t, err)
		b, err := Extract(doc, 2)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("outline entry alone is not found", func(t *testing.T) {
		_, err := Extract(doc, 3)
		assert.ErrorIs(t, err, domain.ErrSectionNotFound)
	})
}

func TestExtractEndWithoutMarker(t *testing.T) {
	sol := "**GIẢI PHÁP 1: Trò chơi khởi động**\n\n" + body(1, 700)
	tests := []struct {
		name  string
		after string
	}{
		{"next solution heading", "\n### GIẢI PHÁP 2: Trạm học tập\nnội dung"},
		{"part heading", "\n## PHẦN V. KẾT QUẢ ĐẠT ĐƯỢC\nnội dung"},
		{"separator", "\n\n---\n\nphần tiếp theo"},
		{"end of document", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := outline + "\n\n" + sol + tt.after
			got, err := Extract(doc, 1)
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(sol), got.Text)
		})
	}
}

func TestFindEndIgnoresSeparatorNearStart(t *testing.T) {
	doc := "## GIẢI PHÁP 1: Tên\n---\n" + body(1, 700) + "\n\n---\n\nPHẦN V. KẾT QUẢ"
	end := FindEnd(doc, 1, 0)
	want := len(strings.TrimRight(doc[:strings.LastIndex(doc, "---")], " \n"))
	assert.Equal(t, want, end)
}

func TestExtractLabelInsideSentence(t *testing.T) {
	seg := "Nội dung chi tiết của giải pháp 1 như sau.\n\n" + body(1, 700)
	doc := "Mở đầu ngắn.\n\n---\n\n" + seg + "\n\n---\n\nKết"

	got, err := Extract(doc, 1)
	require.NoError(t, err)
	assert.Equal(t, "detailed-mention", got.Strategy)
	assert.Equal(t, strings.TrimSpace(seg), got.Text)
}

func TestLocateSegmentScansFromTheEnd(t *testing.T) {
	early := "GIẢI PHÁP 1 bản nháp\n\n" + body(1, 650)
	late := "GIẢI PHÁP 1 bản cuối\n\n" + body(1, 650)
	doc := early + "\n***\n" + late + "\n***\nngắn"

	start, ok := locateSegment(doc, 1)
	require.True(t, ok)
	assert.Equal(t, strings.Index(doc, "GIẢI PHÁP 1 bản cuối"), start)

	_, ok = locateSegment("GIẢI PHÁP 1 ngắn\n***\nkhác", 1)
	assert.False(t, ok)
}

func TestStrategiesArePure(t *testing.T) {
	doc := outline + "\n\n## GIẢI PHÁP 1: Tên\n\n" + body(1, 700)
	for _, s := range Strategies() {
		a, okA := s.Locate(doc, 1)
		b, okB := s.Locate(doc, 1)
		assert.Equal(t, okA, okB, s.Name)
		assert.Equal(t, a, b, s.Name)
	}
}

func TestExtractNotFound(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		section int
	}{
		{"empty document", "", 1},
		{"invalid section", outline, 0},
		{"short mention only", outline, 2},
		{"long text without indicators", "GIẢI PHÁP 1: " + strings.Repeat("chữ ", 400), 1},
		{"section 1 does not match 10", "## GIẢI PHÁP 10: Tên\n\n" + body(10, 700), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.doc, tt.section)
			assert.ErrorIs(t, err, domain.ErrSectionNotFound)
		})
	}
}

func TestBodyStart(t *testing.T) {
	assert.Equal(t, 0, BodyStart("không có dàn ý"))
	doc := outline + "\nphần thân"
	assert.Equal(t, strings.Index(doc, "phần thân"), BodyStart(doc))
}
