package request

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/sonjasonjao/webserv-sub000/internal/util"
)

// stepMultipart streams a multipart/form-data upload directly to disk,
// processing as many complete parts (or part-fragments) as the currently
// buffered bytes allow, per spec.md §4.3.
func (r *Request) stepMultipart() stepResult {
	if !r.limitsApplied {
		return stepNeedData
	}
	if r.UploadDir == "" {
		return r.setInvalid(403)
	}

	delim := []byte("--" + r.Boundary)
	closer := append([]byte("\r\n"), delim...)

	for {
		if !r.mpHeaderParsed {
			idx := bytes.Index(r.buffer, delim)
			if idx < 0 {
				return stepNeedData
			}
			rest := r.buffer[idx+len(delim):]
			if bytes.HasPrefix(rest, []byte("--")) {
				r.buffer = rest[2:]
				r.buffer = trimLeadingCRLF(r.buffer)
				r.closeUploadFile()
				return r.complete(201)
			}
			rest = trimLeadingCRLF(rest)
			sep := bytes.Index(rest, []byte("\r\n\r\n"))
			if sep < 0 {
				if len(rest) > HeadersMaxSize {
					return r.setInvalid(400)
				}
				return stepNeedData
			}
			headerBlock := string(rest[:sep])
			r.buffer = rest[sep+4:]

			filename := util.ExtractValue(headerBlock, "filename")
			if filename == "" {
				return r.setInvalid(400)
			}
			path := filepath.Join(r.UploadDir, util.Basename(filename))
			if err := os.MkdirAll(r.UploadDir, 0o755); err != nil {
				return r.setInvalid(500)
			}
			if _, err := os.Stat(path); err == nil {
				return r.setInvalid(409)
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
			if err != nil {
				return r.setInvalid(409)
			}
			r.UploadFile = f
			r.UploadFilePath = path
			r.mpHeaderParsed = true
			continue
		}

		idx := bytes.Index(r.buffer, closer)
		if idx < 0 {
			safe := len(r.buffer) - (len(closer) - 1)
			if safe > 0 {
				if _, err := r.UploadFile.Write(r.buffer[:safe]); err != nil {
					return r.setInvalid(500)
				}
				r.buffer = r.buffer[safe:]
			}
			return stepNeedData
		}
		if _, err := r.UploadFile.Write(r.buffer[:idx]); err != nil {
			return r.setInvalid(500)
		}
		r.closeUploadFile()
		r.mpHeaderParsed = false
		r.buffer = r.buffer[idx+2:] // leave "--boundary..." for the next iteration
	}
}

func (r *Request) closeUploadFile() {
	if r.UploadFile != nil {
		r.UploadFile.Close()
		r.UploadFile = nil
	}
}

func trimLeadingCRLF(b []byte) []byte {
	if bytes.HasPrefix(b, []byte("\r\n")) {
		return b[2:]
	}
	return b
}
