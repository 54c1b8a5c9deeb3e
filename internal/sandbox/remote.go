package sandbox

import (
	"context"
	"encoding/json"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	natsjs "github.com/cloudevents/sdk-go/protocol/nats_jetstream/v2"

	strataerrors "github.com/stratabuild/strata/internal/errors"
)

// RemoteStrategy delegates sandbox materialisation, spawn and output
// capture to a remote execution service (§4.G "Strategies": "a remote
// strategy is optional; when enabled, steps (3)-(5) are delegated ... and
// the fingerprint + output digests become the exchange protocol"). The
// wire format is a CloudEvent carrying the Process description as JSON
// data, exchanged request/reply over a NATS JetStream subject.
type RemoteStrategy struct {
	client  cloudevents.Client
	subject string
}

// remoteRequest is the CloudEvent payload sent to the remote executor.
type remoteRequest struct {
	Fingerprint string  `json:"fingerprint"`
	Argv        []string `json:"argv"`
	Env         map[string]string `json:"env"`
	WorkDir     string  `json:"work_dir"`
	InputDigest string  `json:"input_digest"`
	OutputFiles []string `json:"output_file_paths"`
	OutputDirs  []string `json:"output_dir_paths"`
	TimeoutNs   int64   `json:"timeout_ns"`
}

// remoteReply is the CloudEvent payload the remote executor replies with:
// just the fingerprint + output digests, per the spec's exchange protocol.
type remoteReply struct {
	ExitCode     int    `json:"exit_code"`
	StdoutHash   string `json:"stdout_hash"`
	StdoutSize   int64  `json:"stdout_size"`
	StderrHash   string `json:"stderr_hash"`
	StderrSize   int64  `json:"stderr_size"`
	OutputHash   string `json:"output_hash"`
	OutputSize   int64  `json:"output_size"`
	TimedOut     bool   `json:"timed_out"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewRemoteStrategy connects to a NATS JetStream server at natsURL and
// returns a strategy that exchanges Process descriptions as CloudEvents on
// subject (the remote execution service's well-known request subject).
func NewRemoteStrategy(ctx context.Context, natsURL, stream, subject string) (*RemoteStrategy, error) {
	p, err := natsjs.New(ctx,
		natsjs.WithConnStr(natsURL),
		natsjs.WithConsumeOptions(),
		natsjs.WithStreamConfig(nil),
		natsjs.WithSubject(subject),
	)
	if err != nil {
		return nil, strataerrors.New(strataerrors.KindIO, fmt.Errorf("sandbox: connecting to nats jetstream: %w", err))
	}
	c, err := cloudevents.NewClient(p)
	if err != nil {
		return nil, strataerrors.New(strataerrors.KindEngine, fmt.Errorf("sandbox: building cloudevents client: %w", err))
	}
	_ = stream // unused: WithStreamConfig(nil) above passes no stream configuration
	return &RemoteStrategy{client: c, subject: subject}, nil
}

// Request exchanges p's fingerprint and materialised inputs with the
// remote executor and returns its Result, without requiring a local
// sandbox materialisation.
func (r *RemoteStrategy) Request(ctx context.Context, fp string, p Process) (Result, error) {
	reqBody := remoteRequest{
		Fingerprint: fp,
		Argv:        p.Argv,
		Env:         p.Env,
		WorkDir:     p.WorkDir,
		InputDigest: p.InputDigest.String(),
		OutputFiles: p.OutputFilePaths,
		OutputDirs:  p.OutputDirPaths,
		TimeoutNs:   int64(p.Timeout),
	}

	event := cloudevents.NewEvent()
	event.SetID(fp)
	event.SetSource("strata/sandbox")
	event.SetType("build.strata.process.execute")
	if err := event.SetData(cloudevents.ApplicationJSON, reqBody); err != nil {
		return Result{}, strataerrors.New(strataerrors.KindEngine, err)
	}

	ctx = cloudevents.ContextWithTarget(ctx, r.subject)
	reply, result := r.client.Request(ctx, event)
	if cloudevents.IsUndelivered(result) {
		return Result{}, strataerrors.New(strataerrors.KindIO, fmt.Errorf("sandbox: remote execution request undelivered: %w", result))
	}
	if reply == nil {
		return Result{}, strataerrors.New(strataerrors.KindEngine, fmt.Errorf("sandbox: remote executor returned no reply"))
	}

	var out remoteReply
	if err := json.Unmarshal(reply.Data(), &out); err != nil {
		return Result{}, strataerrors.New(strataerrors.KindEngine, fmt.Errorf("sandbox: decoding remote reply: %w", err))
	}
	if out.ErrorMessage != "" {
		return Result{}, strataerrors.New(strataerrors.KindIO, fmt.Errorf("sandbox: remote executor error: %s", out.ErrorMessage))
	}

	return Result{
		ExitCode:     out.ExitCode,
		StdoutDigest: digestOf(out.StdoutHash, out.StdoutSize),
		StderrDigest: digestOf(out.StderrHash, out.StderrSize),
		OutputDigest: digestOf(out.OutputHash, out.OutputSize),
		TimedOut:     out.TimedOut,
	}, nil
}
