package server

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"LnSPoll/core/catalogue"
	"LnSPoll/logger"

	"github.com/gorilla/mux"
	"github.com/minio/minio-go/v7"
)

// AudioSource opens catalogue files for playback.
type AudioSource interface {
	OpenAudio(ctx context.Context, relPath string) (io.ReadSeekCloser, time.Time, error)
}

type fsAudio struct {
	p *catalogue.FSProvider
}

// NewFSAudio serves audio from the local catalogue directory.
func NewFSAudio(p *catalogue.FSProvider) AudioSource {
	return fsAudio{p: p}
}

func (a fsAudio) OpenAudio(ctx context.Context, relPath string) (io.ReadSeekCloser, time.Time, error) {
	f, err := a.p.Open(relPath)
	if err != nil {
		return nil, time.Time{}, err
	}
	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		f.Close()
		return nil, time.Time{}, fs.ErrNotExist
	}
	return f, fi.ModTime(), nil
}

type minioAudio struct {
	p *catalogue.MinioProvider
}

// NewMinioAudio serves audio objects from the catalogue bucket.
func NewMinioAudio(p *catalogue.MinioProvider) AudioSource {
	return minioAudio{p: p}
}

func (a minioAudio) OpenAudio(ctx context.Context, relPath string) (io.ReadSeekCloser, time.Time, error) {
	obj, info, err := a.p.Open(ctx, relPath)
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return nil, time.Time{}, fs.ErrNotExist
		}
		return nil, time.Time{}, err
	}
	return obj, info.LastModified, nil
}

// audioContentType 根据扩展名返回音频类型
func audioContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	case ".aac":
		return "audio/aac"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

// AudioHandler streams a catalogue file with Range support.
func (h *APIHandler) AudioHandler(w http.ResponseWriter, r *http.Request) {
	relPath := mux.Vars(r)["path"]
	if !catalogue.IsAudio(relPath) {
		ErrorResponse(w, http.StatusNotFound, "audio file not found")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	f, modTime, err := h.audio.OpenAudio(ctx, relPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			ErrorResponse(w, http.StatusNotFound, "audio file not found")
			return
		}
		logger.Error("[Audio] failed to open file", logger.String("path", relPath), logger.ErrorField(err))
		ErrorResponse(w, http.StatusInternalServerError, "failed to open audio file")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", audioContentType(relPath))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, path.Base(relPath), modTime, f)
}
