package serving

import "strings"

var synonyms = map[string][]string{
	"국물":  {"탕", "찌개", "전골", "라멘", "샤브"},
	"탕":   {"국물", "찌개", "전골"},
	"찌개":  {"국물", "탕", "전골"},
	"고기":  {"구이", "스테이크", "바베큐"},
	"면":   {"국수", "라멘", "우동", "파스타"},
	"회":   {"사시미", "스시"},
	"사시미": {"회"},
	"초밥":  {"스시"},
	"스시":  {"초밥", "사시미", "회"},
}

// ExpandKeyword lowercases keyword and appends its synonyms. An empty
// keyword yields nil.
func ExpandKeyword(keyword string) []string {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return nil
	}
	out := []string{kw}
	out = append(out, synonyms[kw]...)
	return out
}

// Matches reports whether any keyword is a substring of the name, address,
// a menu or a tag.
func Matches(r Restaurant, keywords []string) bool {
	fields := make([]string, 0, 2+len(r.Menus)+len(r.Tags))
	fields = append(fields, strings.ToLower(r.Name), strings.ToLower(r.Address))
	for _, m := range r.Menus {
		fields = append(fields, strings.ToLower(m))
	}
	for _, t := range r.Tags {
		fields = append(fields, strings.ToLower(t))
	}
	for _, kw := range keywords {
		for _, f := range fields {
			if strings.Contains(f, kw) {
				return true
			}
		}
	}
	return false
}
