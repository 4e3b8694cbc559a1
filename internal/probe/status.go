package probe

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

const formattingPrefix = '§'

type statusPayload struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players struct {
		Max    int `json:"max"`
		Online int `json:"online"`
		Sample []struct {
			Name string `json:"name"`
			ID   string `json:"id"`
		} `json:"sample"`
	} `json:"players"`
	Description        interface{} `json:"description"`
	Favicon            string      `json:"favicon"`
	EnforcesSecureChat bool        `json:"enforcesSecureChat"`
}

// decodeStatus turns a server list status JSON document into a Response.
func decodeStatus(payload []byte) (*Response, error) {
	var status statusPayload
	if err := sonic.Unmarshal(payload, &status); err != nil {
		return nil, fmt.Errorf("%w: invalid status json: %v", errMalformed, err)
	}
	if status.Version.Name == "" && status.Description == nil {
		return nil, fmt.Errorf("%w: status has neither version nor description", errMalformed)
	}

	description := flattenDescription(status.Description)
	resp := &Response{
		Protocol:           ProtocolMinecraft,
		VersionName:        status.Version.Name,
		ProtocolVersion:    status.Version.Protocol,
		PlayersOnline:      status.Players.Online,
		PlayersMax:         status.Players.Max,
		Description:        description,
		CleanDescription:   StripFormatting(description),
		HasFavicon:         status.Favicon != "",
		EnforcesSecureChat: status.EnforcesSecureChat,
	}
	for _, p := range status.Players.Sample {
		if p.Name != "" {
			resp.PlayerSample = append(resp.PlayerSample, p.Name)
		}
	}
	return resp, nil
}

// flattenDescription renders a chat component (string, object or array) as plain text.
func flattenDescription(v interface{}) string {
	var sb strings.Builder
	writeComponent(&sb, v)
	return sb.String()
}

func writeComponent(sb *strings.Builder, v interface{}) {
	switch c := v.(type) {
	case string:
		sb.WriteString(c)
	case []interface{}:
		for _, child := range c {
			writeComponent(sb, child)
		}
	case map[string]interface{}:
		if text, ok := c["text"].(string); ok {
			sb.WriteString(text)
		} else if key, ok := c["translate"].(string); ok {
			sb.WriteString(key)
		}
		if extra, ok := c["extra"].([]interface{}); ok {
			for _, child := range extra {
				writeComponent(sb, child)
			}
		}
	}
}

// StripFormatting removes legacy "§x" colour and style codes and trims whitespace.
func StripFormatting(s string) string {
	if !strings.ContainsRune(s, formattingPrefix) {
		return strings.TrimSpace(s)
	}
	var sb strings.Builder
	skip := false
	for _, r := range s {
		switch {
		case skip:
			skip = false
		case r == formattingPrefix:
			skip = true
		default:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}
