// Package rclonebridge exposes any rclone-supported remote (Google Drive,
// Dropbox, OneDrive, a second S3-compatible account, ...) as a Backend by
// spawning "rclone serve s3" as a child process and talking to it with the
// same backend/s3.Backend client used for real S3.
package rclonebridge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/firmament-sync/firmament/backend"
	"github.com/firmament-sync/firmament/backend/s3"
	"github.com/firmament-sync/firmament/encryptor"
)

// Options configures the rclone remote being bridged and the rclone
// subprocess itself.
type Options struct {
	RemoteType     string            // rclone remote type: "drive", "dropbox", "s3", ...
	RemoteConfig   map[string]string // key/value pairs written into the generated rclone.conf
	RemotePath     string            // path within the remote; its first segment becomes the S3 bucket name
	RcloneBinary   string            // defaults to "rclone"
	ServeHost      string            // defaults to "127.0.0.1"
	StartupTimeout time.Duration     // defaults to 10s
}

// Backend embeds a backend/s3.Backend pointed at the local rclone server, so
// it inherits every Backend method without reimplementing the S3 protocol.
type Backend struct {
	*s3.Backend
	proc *process
}

// New spawns rclone, waits for it to start serving, and connects an S3
// client to it. The Backend has no Close of its own; the owning
// Supervisor's Close tears the subprocess down.
func New(ctx context.Context, name string, opts Options, enc encryptor.Encryptor, sup *Supervisor) (*Backend, error) {
	if opts.RcloneBinary == "" {
		opts.RcloneBinary = "rclone"
	}
	if opts.ServeHost == "" {
		opts.ServeHost = "127.0.0.1"
	}
	if opts.StartupTimeout == 0 {
		opts.StartupTimeout = 10 * time.Second
	}

	proc, err := startProcess(name, opts)
	if err != nil {
		return nil, err
	}

	bucket, prefix := splitRemotePath(opts.RemotePath)

	s3Opts := s3.Options{
		Bucket:          bucket,
		Prefix:          prefix,
		Endpoint:        fmt.Sprintf("http://%s:%d", opts.ServeHost, proc.port),
		AccessKeyID:     proc.accessKey,
		SecretAccessKey: proc.secretKey,
		ForcePathStyle:  true,
	}

	s3Backend, err := s3.New(ctx, name, s3Opts, enc)
	if err != nil {
		if err := createBucket(ctx, s3Opts, bucket); err != nil {
			proc.stop()
			return nil, &backend.BackendError{Backend: name, Op: "new", Err: err}
		}
		s3Backend, err = s3.New(ctx, name, s3Opts, enc)
		if err != nil {
			proc.stop()
			return nil, err
		}
	}

	b := &Backend{Backend: s3Backend, proc: proc}
	sup.track(b)
	return b, nil
}

// Factory adapts New to backend.Factory for use in a backend.Registry.
// options["remote_type"] and options["remote_path"] select the rclone
// remote; any option key prefixed "remote_config_" is passed through (with
// the prefix stripped) as an rclone.conf key for that remote, so a Google
// Drive remote's "client_id", an S3-behind-rclone remote's "provider", and
// so on all flow through without rclonebridge needing to know their names.
// An optional options["encryption_key"] gives this backend its own
// passphrase, independent of any other backend in the same checkout. sup is
// shared by every rclone-bridge backend in a checkout, since it owns the
// subprocess bookkeeping, not backend-specific state.
func Factory(sup *Supervisor) backend.Factory {
	return func(name string, options map[string]string) (backend.Backend, error) {
		opts := Options{
			RemoteType:   options["remote_type"],
			RemotePath:   options["remote_path"],
			RcloneBinary: options["rclone_binary"],
		}
		if opts.RemoteType == "" {
			return nil, &backend.BackendError{Backend: name, Op: "factory", Err: fmt.Errorf("rclonebridge backend requires a \"remote_type\" option")}
		}
		remoteConfig := map[string]string{}
		for k, v := range options {
			if rest, ok := strings.CutPrefix(k, "remote_config_"); ok {
				remoteConfig[rest] = v
			}
		}
		opts.RemoteConfig = remoteConfig

		enc, err := encryptor.New(options["encryption_key"])
		if err != nil {
			return nil, &backend.BackendError{Backend: name, Op: "factory", Err: err}
		}
		return New(context.Background(), name, opts, enc, sup)
	}
}

func splitRemotePath(remotePath string) (bucket, prefix string) {
	remotePath = strings.Trim(remotePath, "/")
	if remotePath == "" {
		return "data", ""
	}
	parts := strings.SplitN(remotePath, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// process owns one running "rclone serve s3" child and its temp config file.
type process struct {
	cmd        *exec.Cmd
	configPath string
	accessKey  string
	secretKey  string
	port       int
}

func startProcess(name string, opts Options) (*process, error) {
	accessKey, err := randomToken(16)
	if err != nil {
		return nil, &backend.BackendError{Backend: name, Op: "new", Err: err}
	}
	secretKey, err := randomToken(32)
	if err != nil {
		return nil, &backend.BackendError{Backend: name, Op: "new", Err: err}
	}

	port, err := findAvailablePort(opts.ServeHost)
	if err != nil {
		return nil, &backend.BackendError{Backend: name, Op: "new", Err: err}
	}

	configPath, err := writeRcloneConfig(opts.RemoteType, opts.RemoteConfig)
	if err != nil {
		return nil, &backend.BackendError{Backend: name, Op: "new", Err: err}
	}

	remoteString := "firmament:"
	if opts.RemotePath != "" {
		remoteString = "firmament:" + strings.Trim(opts.RemotePath, "/")
	}

	cmd := exec.Command(opts.RcloneBinary, "serve", "s3", remoteString,
		"--config", configPath,
		"--addr", fmt.Sprintf("%s:%d", opts.ServeHost, port),
		"--auth-key", accessKey+","+secretKey,
	)

	if err := cmd.Start(); err != nil {
		os.Remove(configPath)
		return nil, &backend.BackendError{Backend: name, Op: "new", Err: fmt.Errorf("starting %s: %w", opts.RcloneBinary, err)}
	}

	p := &process{cmd: cmd, configPath: configPath, accessKey: accessKey, secretKey: secretKey, port: port}

	if err := p.waitReady(opts.ServeHost, opts.StartupTimeout); err != nil {
		p.stop()
		return nil, &backend.BackendError{Backend: name, Op: "new", Err: err}
	}
	return p, nil
}

func (p *process) waitReady(host string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	addr := fmt.Sprintf("%s:%d", host, p.port)

	for time.Now().Before(deadline) {
		if p.cmd.ProcessState != nil && p.cmd.ProcessState.Exited() {
			return fmt.Errorf("rclone serve s3 exited unexpectedly with code %d", p.cmd.ProcessState.ExitCode())
		}
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("rclone serve s3 did not start within %s", timeout)
}

func (p *process) stop() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_, _ = p.cmd.Process.Wait()
	}
	if p.configPath != "" {
		os.Remove(p.configPath)
	}
}

func findAvailablePort(host string) (int, error) {
	l, err := net.Listen("tcp", host+":0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func writeRcloneConfig(remoteType string, remoteConfig map[string]string) (string, error) {
	f, err := os.CreateTemp("", "rclone_firmament_*.conf")
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	b.WriteString("[firmament]\n")
	b.WriteString("type = " + remoteType + "\n")
	for k, v := range remoteConfig {
		b.WriteString(k + " = " + v + "\n")
	}

	if _, err := f.WriteString(b.String()); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// createBucket issues a raw CreateBucket call against the rclone server,
// swallowing "already exists" responses exactly like the original
// create-bucket-then-retry fallback does.
func createBucket(ctx context.Context, opts s3.Options, bucket string) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")),
	)
	if err != nil {
		return fmt.Errorf("loading AWS config for bucket creation: %w", err)
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	})

	_, err = client.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
	}
	return fmt.Errorf("creating bucket %q: %w", bucket, err)
}
