package export

import "strings"

// taskTranslations maps English task descriptions to their Chinese names.
// Order matters for substring matching: the first hit wins.
var taskTranslations = []struct {
	en, zh string
}{
	{"fold clothes", "叠衣服"},
	{"clear the table", "收拾桌面"},
	{"organize books", "书本收纳"},
	{"lace shoes", "穿鞋带"},
	{"organize shoe cabinet", "整理鞋柜"},
	{"organize medicine cabinet", "药箱收纳"},
	{"arrange dishes and utensils", "整理碗筷"},
	{"wipe dishes with a cloth", "用抹布擦拭碗盘"},
	{"organize toiletries", "整理洗漱用品"},
	{"organize documents", "整理文件"},
	{"organize snacks, condiments, or toys", "整理零食、调料或玩具"},
	{"install batteries", "电池安装"},

	// legacy names
	{"folding clothes", "叠衣服"},
	{"folding", "叠衣服"},
	{"cleaning dishes", "整理碗筷"},
	{"desk organizing", "收拾桌面"},
}

// TranslateTask returns the Chinese name of a task description. Exact
// (case-insensitive) matches win, then the first entry where either string
// contains the other. Unknown descriptions are returned unchanged.
func TranslateTask(desc string) string {
	key := strings.ToLower(strings.TrimSpace(desc))
	if key == "" {
		return ""
	}

	for _, t := range taskTranslations {
		if t.en == key {
			return t.zh
		}
	}
	for _, t := range taskTranslations {
		if strings.Contains(key, t.en) || strings.Contains(t.en, key) {
			return t.zh
		}
	}
	return desc
}
