package gateway

import (
	"io"
	"sync"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
	"github.com/vincent-petithory/dataurl"
)

// QRState is what the dashboard shows while the session is being paired.
type QRState struct {
	Paired  bool   `json:"paired"`
	Code    string `json:"code,omitempty"`
	DataURL string `json:"qrcode,omitempty"`
}

type qrHolder struct {
	mu    sync.RWMutex
	state QRState
	out   io.Writer
}

func (q *qrHolder) get() QRState {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.state
}

// show prints code to the terminal and keeps a PNG data URL for the dashboard.
func (q *qrHolder) show(code string) error {
	if q.out != nil {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, q.out)
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.state = QRState{Code: code, DataURL: dataurl.New(png, "image/png").String()}
	q.mu.Unlock()
	return nil
}

func (q *qrHolder) paired(ok bool) {
	q.mu.Lock()
	q.state = QRState{Paired: ok}
	q.mu.Unlock()
}
