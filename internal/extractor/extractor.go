// Package extractor locates the detailed body of a solution section inside
// the accumulated document.
package extractor

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"skkn-server/internal/domain"
)

const (
	// MinDetailRunes is the length a window needs to count as a full body.
	MinDetailRunes = 600
	// MaxWindowBytes bounds the forward scan of a bare label.
	MaxWindowBytes = 12000
	// minEndDistance keeps separators inside the section from ending it.
	minEndDistance = 100
)

// BodyStartMarker closes the outline; detailed sections come after it.
const BodyStartMarker = "Bạn có muốn chỉnh sửa dàn ý không"

var (
	anyLabelLine = regexp.MustCompile(`(?im)^[ \t#*>_-]*(?:\d+\.\s*)?GIẢI\s+PHÁP\s+\d+\b`)
	separatorRe  = regexp.MustCompile(`(?m)^[ \t]*(?:-{3,}|\*{3,}|_{3,}|━{3,})[ \t]*$`)
	partHeading  = regexp.MustCompile(`(?m)^[ \t#*]*(?:(?:PHẦN|Phần)\s+)?(?:I{1,3}|IV|V|VI{1,3}|IX|X)\s*[.:–-]\s*\S|^[ \t#*]*(?:PHỤ\s+LỤC|TÀI\s+LIỆU\s+THAM\s+KHẢO)\b`)
	indicators   = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Bước\s+\d`),
		regexp.MustCompile(`(?i)Ví\s+dụ`),
		regexp.MustCompile(`(?i)Mục\s+tiêu`),
		regexp.MustCompile(`(?i)Quy\s+trình`),
		regexp.MustCompile(`(?m)^[ \t]*#{2,}`),
		regexp.MustCompile(`(?m)^[ \t]*\d+\.\d+\.`),
	}
)

func labelRe(section int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?i)GIẢI\s+PHÁP\s+%d\b`, section))
}

func headingRe(section int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?im)^[ \t]*(?:#{1,6}[ \t]*|\*\*[ \t]*)(?:\d+\.\s*)?GIẢI\s+PHÁP\s+%d\b\s*[:.–-]\s*\S`, section))
}

func endMarkerRe(section int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?i)KẾT\s+THÚC\s+GIẢI\s+PHÁP\s+%d\b`, section))
}

var anyEndMarker = regexp.MustCompile(`(?i)KẾT\s+THÚC\s+GIẢI\s+PHÁP\b`)

// Strategy locates the start offset of a section. Strategies are pure and
// tried in order.
type Strategy struct {
	Name   string
	Locate func(doc string, section int) (int, bool)
}

// Strategies returns the matchers in priority order.
func Strategies() []Strategy {
	return []Strategy{
		{Name: "heading", Locate: locateHeading},
		{Name: "detailed-mention", Locate: locateDetailedMention},
		{Name: "segment", Locate: locateSegment},
	}
}

// Extract returns the most recent detailed occurrence of a section, or
// domain.ErrSectionNotFound.
func Extract(doc string, section int) (domain.ExtractedSection, error) {
	if section <= 0 || strings.TrimSpace(doc) == "" {
		return domain.ExtractedSection{}, domain.ErrSectionNotFound
	}
	for _, s := range Strategies() {
		start, ok := s.Locate(doc, section)
		if !ok {
			continue
		}
		end := FindEnd(doc, section, start)
		if end <= start {
			continue
		}
		return domain.ExtractedSection{
			SectionID:   section,
			StartOffset: start,
			EndOffset:   end,
			Text:        doc[start:end],
			Strategy:    s.Name,
		}, nil
	}
	return domain.ExtractedSection{}, fmt.Errorf("solution %d: %w", section, domain.ErrSectionNotFound)
}

// BodyStart is the offset after the outline, or 0 when the outline question
// is absent.
func BodyStart(doc string) int {
	idx := strings.LastIndex(doc, BodyStartMarker)
	if idx < 0 {
		return 0
	}
	if nl := strings.IndexByte(doc[idx:], '\n'); nl >= 0 {
		return idx + nl + 1
	}
	return len(doc)
}

func locateHeading(doc string, section int) (int, bool) {
	from := BodyStart(doc)
	re := headingRe(section)
	for _, m := range re.FindAllStringIndex(doc[from:], -1) {
		start := from + m[0]
		// Without the outline marker a decorated outline entry could match
		// first, so the body must also look detailed.
		if from == 0 && !isDetailed(doc[start:FindEnd(doc, section, start)]) {
			continue
		}
		return start, true
	}
	return 0, false
}

func locateDetailedMention(doc string, section int) (int, bool) {
	for _, m := range labelRe(section).FindAllStringIndex(doc, -1) {
		start := lineStart(doc, m[0])
		if isDetailed(mentionWindow(doc, start, m[1])) {
			return start, true
		}
	}
	return 0, false
}

func locateSegment(doc string, section int) (int, bool) {
	bounds := separatorRe.FindAllStringIndex(doc, -1)
	offsets := make([]int, 0, len(bounds)+2)
	offsets = append(offsets, 0)
	for _, b := range bounds {
		offsets = append(offsets, b[0], b[1])
	}
	offsets = append(offsets, len(doc))

	re := labelRe(section)
	for i := len(offsets) - 2; i >= 0; i -= 2 {
		segStart, segEnd := offsets[i], offsets[i+1]
		segment := doc[segStart:segEnd]
		loc := re.FindStringIndex(segment)
		if loc == nil || !isDetailed(segment) {
			continue
		}
		return lineStart(doc, segStart+loc[0]), true
	}
	return 0, false
}

// mentionWindow is the text following a label, bounded by the next label
// line, separator or part heading and by MaxWindowBytes.
func mentionWindow(doc string, start, labelEnd int) string {
	limit := min(len(doc), start+MaxWindowBytes)
	rest := doc[labelEnd:limit]
	end := limit
	for _, re := range []*regexp.Regexp{anyLabelLine, separatorRe, partHeading} {
		if loc := re.FindStringIndex(rest); loc != nil && labelEnd+loc[0] < end {
			end = labelEnd + loc[0]
		}
	}
	return doc[start:end]
}

// FindEnd returns the exclusive end offset of the section starting at
// start. Trailing whitespace is not part of the section.
func FindEnd(doc string, section, start int) int {
	end := len(doc)
	if loc := endMarkerRe(section).FindStringIndex(doc[start:]); loc != nil {
		end = lineEnd(doc, start+loc[1])
	} else {
		end = structuralEnd(doc, start)
		if loc := anyEndMarker.FindStringIndex(doc[start:end]); loc != nil {
			end = lineEnd(doc, start+loc[1])
		}
	}
	for end > start && isSpace(doc[end-1]) {
		end--
	}
	return end
}

func structuralEnd(doc string, start int) int {
	from := min(len(doc), start+minEndDistance)
	// Skip to the next line so the section's own heading never matches.
	if nl := strings.IndexByte(doc[from:], '\n'); nl >= 0 {
		from += nl
	} else {
		return len(doc)
	}
	end := len(doc)
	rest := doc[from:]
	for _, re := range []*regexp.Regexp{anyLabelLine, partHeading, separatorRe} {
		if loc := re.FindStringIndex(rest); loc != nil && from+loc[0] < end {
			end = from + loc[0]
		}
	}
	return end
}

func isDetailed(text string) bool {
	if utf8.RuneCountInString(text) < MinDetailRunes {
		return false
	}
	for _, re := range indicators {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func lineStart(doc string, i int) int {
	return strings.LastIndexByte(doc[:i], '\n') + 1
}

func lineEnd(doc string, i int) int {
	if nl := strings.IndexByte(doc[i:], '\n'); nl >= 0 {
		return i + nl
	}
	return len(doc)
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
