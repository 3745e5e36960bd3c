// Package prompt 负责解析系统提示词文档并拼装最终的 system prompt。
package prompt

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
)

// Document 与 prompts/system-prompt.xml 的结构对应。
type Document struct {
	XMLName      xml.Name `xml:"prompt"`
	Version      string   `xml:"version,attr"`
	Jurisdiction string   `xml:"jurisdiction,attr"`
	Persona      string   `xml:"persona"`
	Tone         string   `xml:"tone"`
	Disclaimers  string   `xml:"disclaimers"`
	Rules        struct {
		Rule []string `xml:"rule"`
	} `xml:"rules"`
	OutputFormat string `xml:"outputFormat"`
}

// Load 解析指定路径的提示词文档并返回拼装后的 system prompt。
// 文档缺失或格式错误时返回错误，调用方不得继续发起模型调用。
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取提示词文档失败: %w", err)
	}

	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("解析提示词文档失败: %w", err)
	}

	return Render(doc), nil
}

// Render 将文档各字段插值到固定模板中，多条规则以换行连接。
func Render(doc Document) string {
	rules := make([]string, 0, len(doc.Rules.Rule))
	for _, r := range doc.Rules.Rule {
		if t := strings.TrimSpace(r); t != "" {
			rules = append(rules, t)
		}
	}

	systemPrompt := fmt.Sprintf(`
Version %s, Jurisdiction: %s
Persona: %s
Tone: %s
Disclaimers: %s

Rules:
%s

Response Format:
%s
`,
		strings.TrimSpace(doc.Version),
		strings.TrimSpace(doc.Jurisdiction),
		strings.TrimSpace(doc.Persona),
		strings.TrimSpace(doc.Tone),
		strings.TrimSpace(doc.Disclaimers),
		strings.Join(rules, "\n"),
		strings.TrimSpace(doc.OutputFormat),
	)

	return strings.TrimSpace(systemPrompt)
}
