package scenario

import (
	"strings"
	"testing"
)

func TestResolveVoiceUsesScenarioPreset(t *testing.T) {
	if got := ResolveVoice(Work, ""); got != VoiceEliteMale {
		t.Fatalf("ResolveVoice(work) = %q, want %q", got, VoiceEliteMale)
	}
	if got := ResolveVoice(Urgent, "  "); got != DefaultVoice {
		t.Fatalf("ResolveVoice(urgent) = %q, want %q", got, DefaultVoice)
	}
}

func TestResolveVoicePrefersOverride(t *testing.T) {
	if got := ResolveVoice(Work, "UserVoice12345"); got != "UserVoice12345" {
		t.Fatalf("ResolveVoice(work, override) = %q, want override", got)
	}
}

func TestVoiceTable(t *testing.T) {
	cases := map[Scenario]string{
		Family:       VoiceMatureFemale,
		DateRescue:   VoiceYouthMale,
		Delivery:     VoiceYouthMale,
		Meeting:      VoiceMatureFemale,
		Headhunter:   VoiceMatureFemale,
		Landlord:     VoiceEliteMale,
		Teacher:      VoiceMatureFemale,
		Police:       VoiceEliteMale,
		Scam:         VoiceYouthMale,
		OldClassmate: VoiceYouthMale,
		PetHospital:  VoiceSweetFemale,
		Bank:         VoiceSweetFemale,
		Interview:    VoiceMatureFemale,
		BlindDate:    VoiceSweetFemale,
		Custom:       DefaultVoice,
	}
	for s, want := range cases {
		if got := s.Voice(); got != want {
			t.Fatalf("%s.Voice() = %q, want %q", s, got, want)
		}
	}
}

func TestSystemPromptIncludesPersonaAndRules(t *testing.T) {
	prompt := SystemPrompt(Work, "")
	if !strings.Contains(prompt, "你现在是我的老板") {
		t.Fatalf("prompt missing persona: %q", prompt)
	}
	if !strings.Contains(prompt, "绝对不要说自己是AI") {
		t.Fatalf("prompt missing AI disclosure rule: %q", prompt)
	}
	if !strings.HasPrefix(prompt, "你现在正在进行一个电话角色扮演。") {
		t.Fatalf("prompt missing role-play header: %q", prompt)
	}
}

func TestSystemPromptCustomAndFallback(t *testing.T) {
	custom := SystemPrompt(Custom, " 我是你表哥，车在楼下 ")
	if !strings.Contains(custom, "你的设定是：我是你表哥，车在楼下。") {
		t.Fatalf("custom prompt = %q", custom)
	}
	urgent := SystemPrompt(Urgent, "ignored")
	if !strings.Contains(urgent, fallbackPersona) {
		t.Fatalf("urgent prompt missing fallback persona: %q", urgent)
	}
}

func TestParse(t *testing.T) {
	if s, err := Parse(" Work "); err != nil || s != Work {
		t.Fatalf("Parse(Work) = %q, %v", s, err)
	}
	if s, err := Parse(""); err != nil || s != Urgent {
		t.Fatalf("Parse(\"\") = %q, %v, want urgent", s, err)
	}
	if _, err := Parse("pirate"); err == nil {
		t.Fatalf("Parse(pirate) error = nil, want error")
	}
}

func TestAllListsEveryScenarioOnce(t *testing.T) {
	all := All()
	if len(all) != 17 {
		t.Fatalf("len(All()) = %d, want 17", len(all))
	}
	seen := map[Scenario]bool{}
	for _, info := range all {
		if seen[info.ID] {
			t.Fatalf("duplicate scenario %q", info.ID)
		}
		seen[info.ID] = true
		if info.Name == "" || info.Voice == "" {
			t.Fatalf("incomplete info %+v", info)
		}
	}
}
