package playback

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/voxgate/voxgate/internal/ari"
)

// FileFallback plays complete audio clips through the PBX when streaming is
// unavailable: the clip is written as a WAV into the shared media directory,
// played via the ARI play verb, and deleted once PlaybackFinished arrives.
type FileFallback struct {
	client   ari.API
	mediaDir string

	mu      sync.Mutex
	pending map[string]pendingPlay // playback id -> file + waiter
}

type pendingPlay struct {
	path string
	done chan struct{}
}

// NewFileFallback creates a fallback player writing into mediaDir.
func NewFileFallback(client ari.API, mediaDir string) *FileFallback {
	return &FileFallback{
		client:   client,
		mediaDir: mediaDir,
		pending:  make(map[string]pendingPlay),
	}
}

// Play writes pcm as a WAV file, starts ARI playback on the channel and
// returns the playback id. The file stays on disk until
// NotifyPlaybackFinished removes it.
func (f *FileFallback) Play(ctx context.Context, channelID string, pcm []byte, sampleRate int) (string, error) {
	name := uuid.NewString()
	path := filepath.Join(f.mediaDir, name+".wav")
	if err := writeWAV(path, pcm, sampleRate); err != nil {
		return "", fmt.Errorf("playback: write fallback wav: %w", err)
	}

	// Asterisk resolves "sound:" URIs without the extension.
	mediaURI := "sound:" + strings.TrimSuffix(path, ".wav")
	playbackID, err := f.client.PlayMedia(ctx, channelID, mediaURI)
	if err != nil {
		os.Remove(path)
		return "", err
	}

	f.mu.Lock()
	f.pending[playbackID] = pendingPlay{path: path, done: make(chan struct{})}
	f.mu.Unlock()
	return playbackID, nil
}

// NotifyPlaybackFinished deletes the backing file for a finished playback
// and releases any Wait callers. Unknown ids are ignored; the call shares
// one ARI event stream with regular sound playbacks.
func (f *FileFallback) NotifyPlaybackFinished(playbackID string) {
	f.mu.Lock()
	p, ok := f.pending[playbackID]
	if ok {
		delete(f.pending, playbackID)
	}
	f.mu.Unlock()
	if !ok {
		return
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("playback: remove fallback wav", "path", p.path, "error", err)
	}
	close(p.done)
}

// Wait blocks until the playback finishes or ctx is cancelled.
func (f *FileFallback) Wait(ctx context.Context, playbackID string) error {
	f.mu.Lock()
	p, ok := f.pending[playbackID]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels an in-flight fallback playback and removes its file.
func (f *FileFallback) Stop(ctx context.Context, playbackID string) error {
	err := f.client.StopPlayback(ctx, playbackID)
	if ari.IsNotFound(err) {
		err = nil
	}
	f.NotifyPlaybackFinished(playbackID)
	return err
}

// Cleanup removes all files still pending, e.g. at teardown.
func (f *FileFallback) Cleanup() {
	f.mu.Lock()
	pending := f.pending
	f.pending = make(map[string]pendingPlay)
	f.mu.Unlock()

	for _, p := range pending {
		os.Remove(p.path)
		close(p.done)
	}
}

// writeWAV writes mono PCM16 data as a canonical 44-byte-header WAV file.
func writeWAV(path string, pcm []byte, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+len(pcm)))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], 1) // mono
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(hdr[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(hdr[34:36], 16) // bits per sample
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(pcm)))

	if _, err := file.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := file.Write(pcm); err != nil {
		return err
	}
	return file.Close()
}
