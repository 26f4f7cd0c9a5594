package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/vrtgate/internal/rules"
	"example.com/vrtgate/internal/vrt"
)

func testCapture(t *testing.T, withContext bool) []byte {
	t.Helper()
	var data []byte
	if withContext {
		ctx := vrt.NewContext(9)
		c, _ := ctx.Context()
		c.SetBandwidthHz(1e6)
		require.NoError(t, ctx.Resize())
		data = append(data, vrt.Encode(ctx)...)
	}
	for i := 0; i < 2; i++ {
		p := vrt.NewSignalData(9)
		p.SetPacketCount(uint8(i))
		require.NoError(t, p.SetPayloadData(make([]byte, 16)))
		require.NoError(t, p.SetTrailer(vrt.Trailer(0).Set(vrt.ValidData, true)))
		data = append(data, vrt.Encode(p)...)
	}
	return data
}

func newTestServer(t *testing.T, repo *rules.Repository) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := NewServer(Options{StorageDir: t.TempDir(), Repository: repo, Concurrency: 2})
	require.NoError(t, err)
	ts := httptest.NewServer(NewRouter(srv))
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return srv, ts
}

func upload(t *testing.T, ts *httptest.Server, name string, data []byte, fields map[string]string) []ArtifactRef {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Files []ArtifactRef `json:"files"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Files
}

func postJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func TestValidateUploadedCapture(t *testing.T) {
	_, ts := newTestServer(t, nil)
	files := upload(t, ts, "clean.vrt", testCapture(t, true), nil)
	require.Len(t, files, 1)
	assert.Equal(t, "clean.vrt", files[0].Name)

	resp := postJSON(t, ts.URL+"/validate", map[string]any{"input": files[0].ID})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res struct {
		Acceptance  rules.AcceptanceReport `json:"acceptance"`
		RulePack    string                 `json:"rulePack"`
		Diagnostics int                    `json:"diagnostics"`
		Artifacts   []ArtifactRef          `json:"artifacts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Acceptance.Summary.Pass)
	assert.Equal(t, "builtin", res.RulePack)
	assert.Equal(t, len(rules.DefaultRulePack().Rules), res.Diagnostics)
	require.Len(t, res.Artifacts, 3)

	pdf, err := http.Get(ts.URL + "/artifacts/" + res.Artifacts[2].ID)
	require.NoError(t, err)
	defer pdf.Body.Close()
	assert.Equal(t, "application/pdf", pdf.Header.Get("Content-Type"))
	head := make([]byte, 5)
	_, err = io.ReadFull(pdf.Body, head)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(head))

	metrics, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	text, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), `vrtgate_validations_total{result="pass"} 1`)
	assert.Contains(t, string(text), `vrtgate_packets_total{type="SignalData"} 2`)
}

func TestValidateStreamsDiagnostics(t *testing.T) {
	_, ts := newTestServer(t, nil)
	files := upload(t, ts, "nocontext.vrt", testCapture(t, false), nil)

	resp := postJSON(t, ts.URL+"/validate?stream=true", map[string]any{"input": files[0].ID})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var lines []map[string]any
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.NoError(t, sc.Err())
	require.NotEmpty(t, lines)
	last := lines[len(lines)-1]
	assert.Equal(t, "acceptance", last["type"])
	var sawContextWarning bool
	for _, l := range lines[:len(lines)-1] {
		if l["ruleId"] == "RP-VRT-0007" && l["severity"] == "WARN" {
			sawContextWarning = true
			assert.Contains(t, l["message"], "no context packet for stream 0x00000009")
		}
	}
	assert.True(t, sawContextWarning)
}

func TestValidateUsesRepositoryPack(t *testing.T) {
	dir := t.TempDir()
	repo, err := rules.OpenRepository(filepath.Join(dir, "repo"))
	require.NoError(t, err)
	pack := rules.RulePack{
		RulePackId: "ctx", Version: "1.2.0", Profile: "vita49.2",
		Rules: []rules.Rule{{RuleId: "R1", Severity: rules.ERROR, Check: "CheckContextPresent", Message: "context"}},
	}
	b, err := json.Marshal(pack)
	require.NoError(t, err)
	packPath := filepath.Join(dir, "ctx.json")
	require.NoError(t, os.WriteFile(packPath, b, 0o644))
	_, err = repo.Install(packPath)
	require.NoError(t, err)

	_, ts := newTestServer(t, repo)
	files := upload(t, ts, "nocontext.vrt", testCapture(t, false), nil)
	resp := postJSON(t, ts.URL+"/validate", map[string]any{"input": files[0].ID, "rulePackRef": "ctx"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res struct {
		Acceptance rules.AcceptanceReport `json:"acceptance"`
		RulePack   string                 `json:"rulePack"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, "ctx@1.2.0", res.RulePack)
	assert.False(t, res.Acceptance.Summary.Pass)
	assert.Equal(t, 1, res.Acceptance.Summary.Errors)

	list, err := http.Get(ts.URL + "/rulepacks")
	require.NoError(t, err)
	defer list.Body.Close()
	var packs struct {
		RulePacks []struct {
			RulePackId string `json:"rulePackId"`
			Builtin    bool   `json:"builtin"`
		} `json:"rulePacks"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&packs))
	require.Len(t, packs.RulePacks, 2)
	assert.True(t, packs.RulePacks[0].Builtin)
	assert.Equal(t, "ctx", packs.RulePacks[1].RulePackId)
}

func TestValidateRejectsBadRequests(t *testing.T) {
	_, ts := newTestServer(t, nil)
	cases := []struct {
		name string
		body string
		want int
	}{
		{name: "bad json", body: "{", want: http.StatusBadRequest},
		{name: "unknown input", body: `{"input":"nope"}`, want: http.StatusBadRequest},
		{name: "server path", body: `{"input":"/etc/passwd"}`, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/validate", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}

	files := upload(t, ts, "clean.vrt", testCapture(t, true), nil)
	bad := postJSON(t, ts.URL+"/validate", map[string]any{
		"input": files[0].ID,
		"rulePack": rules.RulePack{
			RulePackId: "inline",
			Rules:      []rules.Rule{{RuleId: "R1", Severity: rules.ERROR, Check: "CheckEverything"}},
		},
	})
	msg, err := io.ReadAll(bad.Body)
	bad.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
	assert.Contains(t, string(msg), "unknown check")

	resp, err := http.Get(ts.URL + "/validate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/artifacts/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPacketsReportsDecodeError(t *testing.T) {
	_, ts := newTestServer(t, nil)
	data := testCapture(t, true)
	files := upload(t, ts, "cut.vrt", data[:len(data)-4], nil)

	resp, err := http.Get(ts.URL + "/packets?input=" + files[0].ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Packets []struct {
			Offset   int64   `json:"offset"`
			Type     string  `json:"type"`
			StreamID *uint32 `json:"streamId"`
		} `json:"packets"`
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Packets, 2)
	assert.Equal(t, "Context", out.Packets[0].Type)
	require.NotNil(t, out.Packets[0].StreamID)
	assert.EqualValues(t, 9, *out.Packets[0].StreamID)
	assert.Contains(t, out.Error, "truncated input")

	limited, err := http.Get(ts.URL + "/packets?limit=1&input=" + files[0].ID)
	require.NoError(t, err)
	defer limited.Body.Close()
	require.NoError(t, json.NewDecoder(limited.Body).Decode(&out))
	assert.Len(t, out.Packets, 1)
}

func pcapOf(t *testing.T, port uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 2)}
	udp := &layers.UDP{SrcPort: 50000, DstPort: layers.UDPPort(port)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))

	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	frame := buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(0, 0), CaptureLength: len(frame), Length: len(frame)}
	require.NoError(t, w.WritePacket(ci, frame))
	return out.Bytes()
}

func TestUploadRecordingExtractsCapture(t *testing.T) {
	_, ts := newTestServer(t, nil)
	data := testCapture(t, true)
	files := upload(t, ts, "session.pcap", pcapOf(t, 4991, data), map[string]string{"port": "4991"})
	require.Len(t, files, 2)
	assert.Equal(t, "recording", files[0].Kind)
	assert.Equal(t, "session.vrt", files[1].Name)
	assert.EqualValues(t, len(data), files[1].Size)

	resp := postJSON(t, ts.URL+"/manifest", map[string]any{"inputs": []string{files[0].ID, files[1].ID}})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Manifest struct {
			Items []struct {
				Path    string `json:"path"`
				Type    string `json:"type"`
				Packets int    `json:"packets"`
			} `json:"items"`
		} `json:"manifest"`
		Artifact ArtifactRef `json:"artifact"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Manifest.Items, 2)
	assert.Equal(t, "pcap", out.Manifest.Items[0].Type)
	assert.Equal(t, "session.vrt", out.Manifest.Items[1].Path)
	assert.Equal(t, 3, out.Manifest.Items[1].Packets)
	assert.Equal(t, "manifest.json", out.Artifact.Name)
}
