package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStatus(t *testing.T) {
	payload := `{
		"version": {"name": "Paper 1.20.4", "protocol": 765},
		"players": {"max": 20, "online": 3, "sample": [{"name": "Notch", "id": "069a79f4-44e9-4726-a5be-fca90e38aaf5"}]},
		"description": {"text": "§aHello ", "extra": [{"text": "§lworld"}, " !"]},
		"favicon": "data:image/png;base64,AAAA",
		"enforcesSecureChat": true
	}`

	resp, err := decodeStatus([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, ProtocolMinecraft, resp.Protocol)
	assert.Equal(t, "Paper 1.20.4", resp.VersionName)
	assert.Equal(t, 765, resp.ProtocolVersion)
	assert.Equal(t, 3, resp.PlayersOnline)
	assert.Equal(t, 20, resp.PlayersMax)
	assert.Equal(t, []string{"Notch"}, resp.PlayerSample)
	assert.Equal(t, "§aHello §lworld !", resp.Description)
	assert.Equal(t, "Hello world !", resp.CleanDescription)
	assert.True(t, resp.HasFavicon)
	assert.True(t, resp.EnforcesSecureChat)
	assert.Equal(t, "(Paper 1.20.4)(3/20)(Hello world !)", resp.Summary())
}

func TestDecodeStatusVariants(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		description string
		wantErr     bool
	}{
		{"plain string description", `{"description":"A Minecraft Server"}`, "A Minecraft Server", false},
		{"translate component", `{"description":{"translate":"multiplayer.status.motd"}}`, "multiplayer.status.motd", false},
		{"array component", `{"description":[{"text":"a"},"b",{"text":"c"}]}`, "abc", false},
		{"version only", `{"version":{"name":"1.8.9","protocol":47}}`, "", false},
		{"empty object", `{}`, "", true},
		{"not json", `{"description":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := decodeStatus([]byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, errMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.description, resp.Description)
		})
	}
}

func TestStripFormatting(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"  padded  ", "padded"},
		{"§6Gold §r§lBold", "Gold Bold"},
		{"trailing §", "trailing"},
		{"§§x", "x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, StripFormatting(tt.input), "input %q", tt.input)
	}
}

func TestResponseSummary(t *testing.T) {
	var nilResp *Response
	assert.Empty(t, nilResp.Summary())

	banner := &Response{Protocol: ProtocolBanner, Banner: "SSH-2.0-OpenSSH_9.6"}
	assert.Equal(t, "SSH-2.0-OpenSSH_9.6", banner.Summary())
}
