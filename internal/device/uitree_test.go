package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = `<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>
<hierarchy rotation="0">
  <node index="0" text="" resource-id="" class="android.widget.FrameLayout" package="com.example.settings" content-desc="" clickable="false" focused="false" bounds="[0,0][1080,1920]">
    <node index="0" text="Wi-Fi" resource-id="android:id/title" class="android.widget.TextView" package="com.example.settings" content-desc="" clickable="false" focused="false" bounds="[48,200][400,260]"/>
    <node index="1" text="" resource-id="com.example.settings:id/switch_widget" class="android.widget.Switch" package="com.example.settings" content-desc="Wi-Fi toggle" clickable="true" focused="false" bounds="[900,190][1050,270]"/>
    <node index="2" text="" resource-id="" class="android.view.View" package="com.example.settings" content-desc="" clickable="false" focused="false" bounds="[0,0][0,0]"/>
  </node>
</hierarchy>`

func TestParseUITreeFiltersMeaningfulElements(t *testing.T) {
	elements, foreground, err := parseUITree(sampleDump)
	require.NoError(t, err)

	assert.Equal(t, "com.example.settings", foreground)
	// The decorative FrameLayout and the zero-area View are dropped.
	require.Len(t, elements, 2)

	assert.Equal(t, "Wi-Fi", elements[0].Text)
	assert.False(t, elements[0].Clickable)
	assert.Equal(t, 48, elements[0].Bounds.X)
	assert.Equal(t, 60, elements[0].Bounds.Height)

	assert.Equal(t, "Wi-Fi toggle", elements[1].Label)
	assert.True(t, elements[1].Clickable)
	assert.Equal(t, 975, elements[1].Bounds.CenterX())
	assert.Equal(t, 230, elements[1].Bounds.CenterY())
}

func TestParseBounds(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
		wantW   int
		wantH   int
	}{
		{name: "valid", in: "[10,20][110,220]", wantW: 100, wantH: 200},
		{name: "zero area", in: "[5,5][5,5]", wantW: 0, wantH: 0},
		{name: "garbage", in: "10,20,110,220", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, err := parseBounds(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantW, r.Width)
			assert.Equal(t, tc.wantH, r.Height)
		})
	}
}

func TestExtractHierarchyXMLTrimsShellNoise(t *testing.T) {
	raw := "UI hierchary dumped to: /dev/tty\r\n" + sampleDump + "\r\ntrailing noise"
	xml, err := extractHierarchyXML(raw)
	require.NoError(t, err)
	assert.Contains(t, xml, "<hierarchy")
	assert.NotContains(t, xml, "trailing noise")

	_, err = extractHierarchyXML("ERROR: could not get idle state")
	require.Error(t, err)
}
