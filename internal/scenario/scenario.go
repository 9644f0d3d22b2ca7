// Package scenario holds the catalogue of caller personas and the prompt and
// voice each one resolves to.
package scenario

import (
	"fmt"
	"strings"
)

// Scenario identifies a caller persona.
type Scenario string

const (
	Urgent       Scenario = "urgent"
	Work         Scenario = "work"
	Family       Scenario = "family"
	DateRescue   Scenario = "date_rescue"
	Delivery     Scenario = "delivery"
	Meeting      Scenario = "meeting"
	Headhunter   Scenario = "headhunter"
	Landlord     Scenario = "landlord"
	Teacher      Scenario = "teacher"
	Police       Scenario = "police"
	Scam         Scenario = "scam"
	OldClassmate Scenario = "old_classmate"
	PetHospital  Scenario = "pet_hospital"
	Bank         Scenario = "bank"
	Interview    Scenario = "interview"
	BlindDate    Scenario = "blind_date"
	Custom       Scenario = "custom"
)

// Preset voice ids offered by the synthesis backend.
const (
	VoiceSweetFemale  = "female-tianmei"
	VoiceMatureFemale = "female-yujie"
	VoiceEliteMale    = "male-qn-jingying"
	VoiceYouthMale    = "male-qn-qingse"
)

// DefaultVoice is used when a scenario has no dedicated voice.
const DefaultVoice = VoiceSweetFemale

// Info describes a scenario for settings surfaces.
type Info struct {
	ID          Scenario `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Voice       string   `json:"voice"`
}

type definition struct {
	name        string
	description string
	persona     string
	voice       string
}

var order = []Scenario{
	Urgent, Work, Family, DateRescue, Delivery, Meeting, Headhunter, Landlord,
	Teacher, Police, Scam, OldClassmate, PetHospital, Bank, Interview, BlindDate, Custom,
}

var catalogue = map[Scenario]definition{
	Urgent: {
		name:        "紧急事件",
		description: "有紧急事情需要处理",
		voice:       DefaultVoice,
	},
	Work: {
		name:        "工作加班",
		description: "老板通知必须立即加班",
		persona:     "你现在是我的老板。性格急躁、强势。你打电话来是因为项目出了紧急问题或者是催我交报告。说话要简短、有力，带有威压感。",
		voice:       VoiceEliteMale,
	},
	Family: {
		name:        "家庭聚餐",
		description: "父母询问何时回家吃饭",
		persona:     "你现在是我的家人（比如姐姐或妈妈）。说话语气亲切、关心，或者是家里有点急事找我。语速正常，带点家常口语。",
		voice:       VoiceMatureFemale,
	},
	DateRescue: {
		name:        "相亲救急",
		description: "假装前任求复合",
		persona:     "你现在是我的好朋友。你假装有急事找我（比如车坏了、失恋了或者急需帮忙），目的是帮我从当前的尴尬约会中脱身。你要表现得很焦急，让我必须马上离开。",
		voice:       VoiceYouthMale,
	},
	Delivery: {
		name:        "快递外卖",
		description: "外卖到了无人签收",
		persona:     "你现在是外卖员或快递员。说话干练、语速稍快，背景可能有点吵。你打电话是因为找不到我的具体位置或者需要我下楼取件。",
		voice:       VoiceYouthMale,
	},
	Meeting: {
		name:        "临时会议",
		description: "紧急召开跨国会议",
		persona:     "你现在是我的同事。语气由于是工作时间所以比较正经，但私下关系不错。你通知我会议提前了，或者需要我马上确认一个数据。",
		voice:       VoiceMatureFemale,
	},
	Headhunter: {
		name:        "猎头挖人",
		description: "高薪职位邀请面试",
		persona:     "你现在是HR或猎头。语气专业、礼貌但带有目的性。你有一个非常好的职位机会想跟我聊聊。",
		voice:       VoiceMatureFemale,
	},
	Landlord: {
		name:        "房东催租",
		description: "通知房租涨价事宜",
		persona:     "你现在是房东。语气严肃或者随意。可能是来催房租，或者通知房子要维修/收回。不用太客气。",
		voice:       VoiceEliteMale,
	},
	Teacher: {
		name:        "老师家访",
		description: "班主任反映在校情况",
		persona:     "你现在是老师（或班主任）。语气语重心长，或者是有点严肃。关于孩子（或我）在学校的表现打电话来沟通。",
		voice:       VoiceMatureFemale,
	},
	Police: {
		name:        "社区民警",
		description: "配合社区安全调查",
		persona:     "你现在假装是警察。语气非常严肃、官方。通知我去协助调查或者处理车辆违章。要听起来很有权威。",
		voice:       VoiceEliteMale,
	},
	Scam: {
		name:        "诈骗电话",
		description: "假装推销以拖延时间",
		persona:     "你现在是推销员或诈骗分子。语气过度热情或者故意制造恐慌（比如您的账户异常）。说话像个典型的电话推销员。",
		voice:       VoiceYouthMale,
	},
	OldClassmate: {
		name:        "老同学",
		description: "多年未见的老同学叙旧",
		persona:     "你是我多年未见的老同学。语气非常惊喜、热情，或者带点怀旧。你打电话来是想约我参加同学聚会，或者找我借钱/帮忙。",
		voice:       VoiceYouthMale,
	},
	PetHospital: {
		name:        "宠物医院",
		description: "通知宠物检查结果",
		persona:     "你现在是宠物医院的医生或护士。语气温柔、急切。你通知我宠物的检查结果出来了，需要我尽快去一趟医院，或者确认手术方案。",
		voice:       VoiceSweetFemale,
	},
	Bank: {
		name:        "银行客服",
		description: "信用卡或理财业务",
		persona:     "你现在是银行客服经理。语气非常职业、礼貌。你打电话来是为了推销信用卡分期，或者通知我的账户有一笔大额消费需要确认。",
		voice:       VoiceSweetFemale,
	},
	Interview: {
		name:        "面试通知",
		description: "HR通知面试时间和地点",
		persona:     "你现在是公司的HR。语气专业、客气。你通知我通过了简历筛选，想约一个时间进行面试，或者还有些细节需要核对。",
		voice:       VoiceMatureFemale,
	},
	BlindDate: {
		name:        "相亲对象",
		description: "第一次接触的相亲对象",
		persona:     "你是我家里介绍的相亲对象。这是我们第一次通话。语气有点害羞、试探，或者有点尴尬。你想约我周末见面喝咖啡。",
		voice:       VoiceSweetFemale,
	},
	Custom: {
		name:        "自定义",
		description: "自定义剧情内容",
		voice:       DefaultVoice,
	},
}

const fallbackPersona = "你是一个普通朋友，打电话来闲聊或者约饭。"

const promptRules = `重要规则：
1. 必须完全像真人一样说话。语气要极其自然，不要有翻译腔。
2. 多使用口语填充词（如“那个...”、“呃...”、“就是...”）来增加真实感。
3. 绝对不要说自己是AI。如果被怀疑，要生气或者反问。
4. 回复要简短干练，通常不超过2句，就像真实的电话交流一样（别像写信）。
5. 请根据场景调整语速和语气（比如快递员要急躁，相亲对象要羞涩）。
6. [极重要] 为了减少通话延迟，请尽量回复短句（10-20字以内），不要长篇大论！
7. [绝对禁止] 不要出现“xx公司”、“xx先生”等占位符！必须编造具体的、合理的虚构细节（如“中信证券”、“张经理”）。`

// GreetingInstruction asks the partner to open the call in character.
const GreetingInstruction = "（接通电话）请直接用你现在的身份跟我打招呼，语气自然点，不要太书面。简短说明来意。"

// Parse maps a user supplied id onto a known scenario.
func Parse(raw string) (Scenario, error) {
	s := Scenario(strings.ToLower(strings.TrimSpace(raw)))
	if s == "" {
		return Urgent, nil
	}
	if _, ok := catalogue[s]; !ok {
		return "", fmt.Errorf("unknown scenario %q", raw)
	}
	return s, nil
}

// Valid reports whether s is a catalogued scenario.
func (s Scenario) Valid() bool {
	_, ok := catalogue[s]
	return ok
}

// Voice returns the preset voice for the scenario.
func (s Scenario) Voice() string {
	if def, ok := catalogue[s]; ok && def.voice != "" {
		return def.voice
	}
	return DefaultVoice
}

// ResolveVoice prefers a user supplied (for example cloned) voice over the
// scenario preset.
func ResolveVoice(s Scenario, override string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return s.Voice()
}

// SystemPrompt builds the role-play instructions sent as the first message
// of every call.
func SystemPrompt(s Scenario, customText string) string {
	persona := fallbackPersona
	switch {
	case s == Custom:
		persona = fmt.Sprintf("你的设定是：%s。请完全沉浸在这个角色中。", strings.TrimSpace(customText))
	case catalogue[s].persona != "":
		persona = catalogue[s].persona
	}

	var b strings.Builder
	b.WriteString("你现在正在进行一个电话角色扮演。\n")
	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString(promptRules)
	return b.String()
}

// All lists the catalogue in display order.
func All() []Info {
	out := make([]Info, 0, len(order))
	for _, id := range order {
		def := catalogue[id]
		out = append(out, Info{
			ID:          id,
			Name:        def.name,
			Description: def.description,
			Voice:       id.Voice(),
		})
	}
	return out
}
