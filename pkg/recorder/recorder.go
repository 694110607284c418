// Package recorder exports and imports recorded sessions. A recording holds
// the program, the emulator mode and every facet of the version store.
package recorder

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/willibrandon/ChronoCPU/pkg/emulator"
	"github.com/willibrandon/ChronoCPU/pkg/history"
	"github.com/willibrandon/ChronoCPU/pkg/state"
)

// Format identifies the recording layout in the envelope.
const Format = "chrono-recording/1"

// ErrFormat is returned for files that are not recordings.
var ErrFormat = errors.New("not a chrono recording")

// Options configures how a recording is written and read
type Options struct {
	Compression CompressionType
	Security    SecurityOptions
	Logger      *slog.Logger
}

// DefaultOptions returns zstd compression without encryption or integrity checks
func DefaultOptions() Options {
	return Options{Compression: DefaultCompression}
}

// NewOptions applies opts over DefaultOptions
func NewOptions(opts ...func(*Options)) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Recording is a session as it is stored on disk.
type Recording struct {
	Program state.Program
	Mode    emulator.Mode
	Store   *history.Store
}

// envelope is the plain JSON line in front of the payload.
type envelope struct {
	Format      string `json:"format"`
	Compression string `json:"compression"`
	Encrypted   bool   `json:"encrypted"`
	HMAC        string `json:"hmac,omitempty"`
	Size        int    `json:"size"`
}

type document struct {
	Program  state.Program  `json:"program"`
	Mode     emulator.Mode  `json:"mode"`
	Versions int            `json:"versions"`
	Facets   history.Facets `json:"facets"`
}

// Export writes rec to w. The payload is the JSON document, compressed, then
// encrypted if configured. The HMAC covers the payload as written.
func Export(w io.Writer, rec Recording, opts Options) error {
	if rec.Store == nil || rec.Store.Len() == 0 {
		return errors.New("nothing recorded")
	}

	data, err := json.Marshal(document{
		Program:  rec.Program,
		Mode:     rec.Mode,
		Versions: rec.Store.Len(),
		Facets:   rec.Store.Facets(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode recording: %w", err)
	}

	payload, err := CompressData(data, opts.Compression)
	if err != nil {
		return err
	}
	env := envelope{
		Format:      Format,
		Compression: opts.Compression.String(),
	}
	if opts.Security.EnableEncryption {
		payload, err = EncryptData(payload, opts.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("failed to encrypt recording: %w", err)
		}
		env.Encrypted = true
	}
	if opts.Security.EnableIntegrityCheck {
		env.HMAC = CalculateHMAC(payload, opts.Security.IntegrityKey)
	}
	env.Size = len(payload)

	head, err := json.Marshal(env)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	bw.Write(head)
	bw.WriteByte('\n')
	bw.Write(payload)
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}

	logger(opts).Info("recording exported",
		"versions", rec.Store.Len(),
		"compression", env.Compression,
		"encrypted", env.Encrypted,
		"bytes", len(head)+1+len(payload))
	return nil
}

// Import reads a recording written by Export. A recording carrying an HMAC is
// rejected with ErrIntegrity unless it verifies against the configured key.
// Options that enable integrity checks or encryption also reject recordings
// written without them.
func Import(r io.Reader, opts Options) (Recording, error) {
	br := bufio.NewReader(r)
	head, err := br.ReadBytes('\n')
	if err != nil {
		return Recording{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	var env envelope
	if err := json.Unmarshal(head, &env); err != nil {
		return Recording{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if env.Format != Format {
		return Recording{}, fmt.Errorf("%w: format %q", ErrFormat, env.Format)
	}

	payload, err := io.ReadAll(br)
	if err != nil {
		return Recording{}, fmt.Errorf("failed to read recording: %w", err)
	}
	if len(payload) != env.Size {
		return Recording{}, fmt.Errorf("%w: payload is %d bytes, envelope says %d", ErrIntegrity, len(payload), env.Size)
	}

	if env.HMAC == "" && opts.Security.EnableIntegrityCheck {
		return Recording{}, fmt.Errorf("%w: recording is not signed", ErrIntegrity)
	}
	if env.HMAC != "" {
		if len(opts.Security.IntegrityKey) == 0 {
			return Recording{}, fmt.Errorf("%w: recording is signed and no integrity key was given", ErrIntegrity)
		}
		if !VerifyHMAC(payload, opts.Security.IntegrityKey, env.HMAC) {
			return Recording{}, ErrIntegrity
		}
	}
	if !env.Encrypted && opts.Security.EnableEncryption {
		return Recording{}, fmt.Errorf("%w: recording is not encrypted", ErrIntegrity)
	}
	if env.Encrypted {
		if len(opts.Security.EncryptionKey) == 0 {
			return Recording{}, errors.New("recording is encrypted and no encryption key was given")
		}
		payload, err = DecryptData(payload, opts.Security.EncryptionKey)
		if err != nil {
			return Recording{}, fmt.Errorf("failed to decrypt recording: %w", err)
		}
	}

	compression, err := ParseCompression(env.Compression)
	if err != nil {
		return Recording{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	data, err := DecompressData(payload, compression)
	if err != nil {
		return Recording{}, fmt.Errorf("failed to decompress recording: %w", err)
	}

	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return Recording{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	store, err := history.FromFacets(doc.Facets, opts.Logger)
	if err != nil {
		return Recording{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if store.Len() != doc.Versions || store.Len() == 0 {
		return Recording{}, fmt.Errorf("%w: %d versions recorded, header says %d", ErrFormat, store.Len(), doc.Versions)
	}
	if err := doc.Program.Validate(); err != nil {
		return Recording{}, err
	}

	logger(opts).Info("recording imported", "versions", store.Len(), "compression", env.Compression, "encrypted", env.Encrypted)
	return Recording{Program: doc.Program, Mode: doc.Mode, Store: store}, nil
}

func logger(opts Options) *slog.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return slog.Default()
}
