package model

import (
	"strings"
	"time"
)

// Category classifies a block. The set is closed; OrderOfBusiness groupings
// never become blocks themselves.
type Category string

const (
	CategoryIntro           Category = "intro"
	CategoryIntervention    Category = "intervention"
	CategoryDivision        Category = "division"
	CategoryWrittenQuestion Category = "written_question"
	CategoryWrittenResponse Category = "written_response"
	CategoryMemberList      Category = "member_list"
	CategoryCommittee       Category = "committee"
	CategoryAppendix        Category = "appendix"
	CategoryUnknown         Category = "unknown"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryIntro,
	CategoryIntervention,
	CategoryDivision,
	CategoryWrittenQuestion,
	CategoryWrittenResponse,
	CategoryMemberList,
	CategoryCommittee,
	CategoryAppendix,
	CategoryUnknown,
}

// Valid reports whether c is one of the closed category values.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Block is one contiguous, categorized segment of a sitting's transcript.
type Block struct {
	SittingID   string                     `json:"sitting_id"`
	Number      int                        `json:"number"`
	Previous    *int                       `json:"previous,omitempty"`
	Timestamp   time.Time                  `json:"timestamp"`
	Category    Category                   `json:"category"`
	Content     map[Lang]string            `json:"content"`
	Metadata    map[Lang]map[string]string `json:"metadata,omitempty"`
	SpeakerID   string                     `json:"speaker_id,omitempty"`
	SpeakerName Multilingual               `json:"speaker_name,omitempty"`
	VoteRef     string                     `json:"vote_ref,omitempty"`
}

// Empty reports whether the block has no content in any language.
func (b *Block) Empty() bool {
	for _, v := range b.Content {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// SetMeta records a metadata value for lang, allocating maps as needed.
func (b *Block) SetMeta(lang Lang, key, value string) {
	if b.Metadata == nil {
		b.Metadata = make(map[Lang]map[string]string)
	}
	if b.Metadata[lang] == nil {
		b.Metadata[lang] = make(map[string]string)
	}
	b.Metadata[lang][key] = value
}

// Meta returns the metadata value for key in lang, or "".
func (b *Block) Meta(lang Lang, key string) string {
	if b.Metadata == nil {
		return ""
	}
	return b.Metadata[lang][key]
}
