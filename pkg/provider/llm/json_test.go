package llm

import "testing"

func TestParseJSONObjectDirect(t *testing.T) {
	obj, err := ParseJSONObject(`{"intent":"music","song_name":"Nơi này có anh"}`)
	if err != nil {
		t.Fatalf("ParseJSONObject: %v", err)
	}
	if obj["intent"] != "music" || obj["song_name"] != "Nơi này có anh" {
		t.Fatalf("obj = %v", obj)
	}
}

func TestParseJSONObjectMarkdownFence(t *testing.T) {
	for _, input := range []string{
		"```json\n{\"intent\":\"other\",\"song_name\":\"\"}\n```",
		"```\n{\"intent\":\"other\",\"song_name\":\"\"}\n```",
	} {
		obj, err := ParseJSONObject(input)
		if err != nil {
			t.Fatalf("ParseJSONObject(%q): %v", input, err)
		}
		if obj["intent"] != "other" {
			t.Fatalf("obj = %v", obj)
		}
	}
}

func TestParseJSONObjectEmbeddedInProse(t *testing.T) {
	obj, err := ParseJSONObject(`Sure! Here is the result: {"intent":"music","song_name":"abc"} hope that helps`)
	if err != nil {
		t.Fatalf("ParseJSONObject: %v", err)
	}
	if obj["song_name"] != "abc" {
		t.Fatalf("obj = %v", obj)
	}
}

func TestParseJSONObjectRejectsNonObject(t *testing.T) {
	for _, input := range []string{"", "just text", `[1,2,3]`, `"a string"`} {
		if _, err := ParseJSONObject(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}
