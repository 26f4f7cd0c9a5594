package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"example.com/vrtgate/internal/common"
	"example.com/vrtgate/internal/manifest"
	"example.com/vrtgate/internal/report"
	"example.com/vrtgate/internal/rules"
	"example.com/vrtgate/internal/vrt"
)

type validateRequest struct {
	Input             string          `json:"input"`
	Profile           string          `json:"profile"`
	RulePackRef       string          `json:"rulePackRef"`
	RulePack          *rules.RulePack `json:"rulePack"`
	IncludeTimestamps *bool           `json:"includeTimestamps"`
}

type validateResult struct {
	Acceptance  rules.AcceptanceReport `json:"acceptance"`
	RulePack    string                 `json:"rulePack"`
	Diagnostics int                    `json:"diagnostics"`
	Artifacts   []ArtifactRef          `json:"artifacts"`

	diags []rules.Diagnostic
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stream := r.URL.Query().Get("stream") == "true"
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	in, err := s.resolveInput(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	rp, source, err := s.loadRulePack(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("load rulepack: %v", err), http.StatusBadRequest)
		return
	}

	s.sem <- struct{}{}
	res, err := s.validate(in, rp, req)
	<-s.sem
	if err != nil {
		s.validations.WithLabelValues("error").Inc()
		if stream {
			_ = newNDJSONStream(w).send(map[string]any{"type": "error", "error": err.Error()})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	res.RulePack = source
	if res.Acceptance.Summary.Pass {
		s.validations.WithLabelValues("pass").Inc()
	} else {
		s.validations.WithLabelValues("fail").Inc()
	}
	common.Logf("validated %s with %s: pass=%v errors=%d warnings=%d",
		in.Name, source, res.Acceptance.Summary.Pass, res.Acceptance.Summary.Errors, res.Acceptance.Summary.Warnings)

	if !stream {
		writeJSON(w, http.StatusOK, res)
		return
	}
	out := newNDJSONStream(w)
	for _, d := range res.diags {
		if err := out.send(d); err != nil {
			return
		}
	}
	_ = out.send(struct {
		Type string `json:"type"`
		validateResult
	}{Type: "acceptance", validateResult: res})
}

// validate evaluates the rule pack over the input and registers the
// diagnostics, acceptance JSON and PDF report as artifacts.
func (s *Server) validate(in Artifact, rp rules.RulePack, req validateRequest) (validateResult, error) {
	var res validateResult
	engine := rules.NewEngine(rp)
	engine.RegisterBuiltins()
	includeTimestamps := true
	if req.IncludeTimestamps != nil {
		includeTimestamps = *req.IncludeTimestamps
	}
	engine.SetConfigValue("diag.include_timestamps", includeTimestamps)

	metrics := common.NewMetrics()
	metrics.AttachPrometheus(s.prom)
	ctx := &rules.Context{InputFile: in.Path, Metrics: metrics}
	metrics.Start()
	diags, err := engine.Eval(ctx)
	metrics.Stop()
	if err != nil {
		return res, fmt.Errorf("eval: %w", err)
	}
	rep := engine.MakeAcceptance()

	diagPath, err := s.tempPath("diagnostics-*.jsonl")
	if err != nil {
		return res, fmt.Errorf("diagnostics temp: %w", err)
	}
	if err := engine.WriteDiagnosticsNDJSON(diagPath); err != nil {
		return res, fmt.Errorf("write diagnostics: %w", err)
	}
	accPath, err := s.tempPath("acceptance-*.json")
	if err != nil {
		return res, fmt.Errorf("acceptance temp: %w", err)
	}
	if err := report.SaveAcceptanceJSON(rep, accPath); err != nil {
		return res, fmt.Errorf("write acceptance: %w", err)
	}
	summary, err := report.SummarizeFile(in.Path, *ctx.Index, metrics.Snapshot())
	if err != nil {
		return res, fmt.Errorf("summarize capture: %w", err)
	}
	summary.File = in.Name
	pdfPath, err := s.tempPath("acceptance-*.pdf")
	if err != nil {
		return res, fmt.Errorf("acceptance pdf temp: %w", err)
	}
	if err := report.SaveAcceptancePDF(summary, rep, pdfPath); err != nil {
		return res, fmt.Errorf("write acceptance pdf: %w", err)
	}

	for _, a := range []struct{ path, name, contentType string }{
		{diagPath, "diagnostics.jsonl", "application/x-ndjson"},
		{accPath, "acceptance_report.json", "application/json"},
		{pdfPath, "acceptance_report.pdf", "application/pdf"},
	} {
		art, err := s.addArtifact(a.path, a.name, a.contentType, "acceptance")
		if err != nil {
			return res, fmt.Errorf("register %s: %w", a.name, err)
		}
		res.Artifacts = append(res.Artifacts, art.Ref())
	}
	res.Acceptance = rep
	res.Diagnostics = len(diags)
	res.diags = diags
	return res, nil
}

func (s *Server) loadRulePack(req validateRequest) (rules.RulePack, string, error) {
	if req.RulePack != nil && len(req.RulePack.Rules) > 0 {
		if err := req.RulePack.Validate(); err != nil {
			return rules.RulePack{}, "", err
		}
		return *req.RulePack, "request", nil
	}
	profile := strings.TrimSpace(req.Profile)
	if profile == "" {
		profile = s.profile
	}
	rp, src, err := rules.ResolveRulePack(rules.RulePackRequest{
		Ref:     req.RulePackRef,
		Profile: profile,
		Repo:    s.repo,
	})
	if err != nil {
		return rp, "", err
	}
	if src.Builtin {
		return rp, "builtin", nil
	}
	return rp, src.Ref.String(), nil
}

// handlePackets lists the scanned packets of an uploaded capture.
func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	in, err := s.resolveInput(r.URL.Query().Get("input"))
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}
	reader, err := vrt.NewReader(in.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open capture: %v", err), http.StatusInternalServerError)
		return
	}
	defer reader.Close()
	type packetRow struct {
		Offset      int64   `json:"offset"`
		Type        string  `json:"type"`
		StreamID    *uint32 `json:"streamId,omitempty"`
		PacketCount uint8   `json:"packetCount"`
		Words       uint16  `json:"words"`
	}
	resp := struct {
		Packets []packetRow `json:"packets"`
		Error   string      `json:"error,omitempty"`
	}{Packets: []packetRow{}}
	for limit == 0 || len(resp.Packets) < limit {
		_, pi, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			resp.Error = err.Error()
			break
		}
		row := packetRow{Offset: pi.Offset, Type: pi.Type.String(), PacketCount: pi.PacketCount, Words: pi.Words}
		if pi.HasStreamID {
			id := pi.StreamID
			row.StreamID = &id
		}
		resp.Packets = append(resp.Packets, row)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Inputs []string `json:"inputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	var paths []string
	names := make(map[string]string)
	for _, id := range req.Inputs {
		art, err := s.resolveInput(id)
		if err != nil {
			http.Error(w, fmt.Sprintf("resolve %s: %v", id, err), http.StatusBadRequest)
			return
		}
		paths = append(paths, art.Path)
		names[art.Path] = art.Name
	}
	m, err := manifest.Build(paths)
	if err != nil {
		http.Error(w, fmt.Sprintf("build manifest: %v", err), http.StatusInternalServerError)
		return
	}
	for i := range m.Items {
		m.Items[i].Path = names[m.Items[i].Path]
	}
	outPath, err := s.tempPath("manifest-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("manifest temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := manifest.Save(m, outPath); err != nil {
		http.Error(w, fmt.Sprintf("write manifest: %v", err), http.StatusInternalServerError)
		return
	}
	art, err := s.addArtifact(outPath, "manifest.json", "application/json", "manifest")
	if err != nil {
		http.Error(w, fmt.Sprintf("register manifest: %v", err), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Manifest manifest.Manifest `json:"manifest"`
		Artifact ArtifactRef       `json:"artifact"`
	}{
		Manifest: m,
		Artifact: art.Ref(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRulePacks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	type packRow struct {
		RulePackId string `json:"rulePackId"`
		Version    string `json:"version"`
		Profile    string `json:"profile"`
		Rules      int    `json:"rules"`
		Builtin    bool   `json:"builtin,omitempty"`
	}
	builtin := rules.DefaultRulePack()
	rows := []packRow{{
		RulePackId: builtin.RulePackId, Version: builtin.Version, Profile: builtin.Profile,
		Rules: len(builtin.Rules), Builtin: true,
	}}
	defaults := map[string]rules.RulePackRef{}
	if s.repo != nil {
		installed, err := s.repo.ListInstalled()
		if err != nil {
			http.Error(w, fmt.Sprintf("list rule packs: %v", err), http.StatusInternalServerError)
			return
		}
		for _, p := range installed {
			rows = append(rows, packRow{
				RulePackId: p.RulePack.RulePackId, Version: p.RulePack.Version,
				Profile: p.RulePack.Profile, Rules: len(p.RulePack.Rules),
			})
		}
		if defaults, err = s.repo.Defaults(); err != nil {
			http.Error(w, fmt.Sprintf("load defaults: %v", err), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, struct {
		RulePacks []packRow                    `json:"rulePacks"`
		Defaults  map[string]rules.RulePackRef `json:"defaults"`
	}{RulePacks: rows, Defaults: defaults})
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	arts := s.artifacts.list()
	refs := make([]ArtifactRef, 0, len(arts))
	for _, art := range arts {
		refs = append(refs, art.Ref())
	}
	writeJSON(w, http.StatusOK, struct {
		Artifacts []ArtifactRef `json:"artifacts"`
	}{Artifacts: refs})
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		s.handleArtifacts(w, r)
		return
	}
	art, ok := s.artifacts.get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	io.Copy(w, f)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
