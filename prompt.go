package askgate

import (
	"fmt"
	"strings"
)

// AnswerMode selects the register of the answer.
type AnswerMode string

const (
	ModeSimple   AnswerMode = "simple"
	ModeStandard AnswerMode = "standard"
	ModeDetailed AnswerMode = "detailed"
)

// AnswerModes returns every mode in display order.
func AnswerModes() []AnswerMode {
	return []AnswerMode{ModeSimple, ModeStandard, ModeDetailed}
}

// ParseAnswerMode parses a mode name. The empty string selects ModeStandard.
func ParseAnswerMode(s string) (AnswerMode, error) {
	if s == "" {
		return ModeStandard, nil
	}
	m := AnswerMode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeSimple, ModeStandard, ModeDetailed:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAnswerMode, s)
}

// Instruction is the style directive embedded in the prompt.
func (m AnswerMode) Instruction() string {
	switch m {
	case ModeSimple:
		return "小学生にも分かるように"
	case ModeDetailed:
		return "福沢諭吉風に"
	default:
		return "日商簿記3級の標準的レベルで"
	}
}

// HiddenNote is the extra model-facing guidance for the mode.
func (m AnswerMode) HiddenNote() string {
	switch m {
	case ModeSimple:
		return "専門用語をできるだけ使わず、小学生でもイメージしやすい身近な例え話を1つ以上入れてください。また、効果的に絵文字等も使い親しみやすい表記にしたり、専門用語や難しい感じにはふりがなをつけて"
	case ModeDetailed:
		return "福沢諭吉が学生に向けて説明するように、19世紀日本で使われていた口語調で"
	default:
		return "日商簿記3級の標準的な教科書レベルの用語を用いながら、難しい用語にはかんたんな補足説明を1文添えて"
	}
}

const promptTemplate = `あなたは、信頼性の高い情報を提示できる高精度なファクトベースのAI簿記講師です。そして、あなたの役割は日商簿記3級を勉強している初心者に簿記を構成する各種概念をわかりやすく理解させることです。
次の「学習者の質問」に答えてください。

回答スタイルの条件:
- 【重要】%s、説明してください。
- 追加説明: %s、説明してください。
- 以下の項目の順番に説明してください。
  1. 概要
  2. 解説
  3. 要点・ポイント
- レスポンスの項目表記には#や*のような記号を使わず1や①や絵文字等を使用して下さい。
- わからない場合は回答する必要はない。
- 根拠／出典（可能なら一次情報）を必ず明記

学習者の質問:
"""
%s
"""`

// BuildPrompt embeds question verbatim in the tutor template for mode.
func BuildPrompt(question string, mode AnswerMode) string {
	return fmt.Sprintf(promptTemplate, mode.Instruction(), mode.HiddenNote(), question)
}
