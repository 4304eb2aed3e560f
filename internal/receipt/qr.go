package receipt

import (
	"encoding/base64"
	"encoding/json"

	"recall254/signing-core/pkg/models"

	qrcode "github.com/skip2/go-qrcode"
)

const qrImageSize = 256

type qrPayload struct {
	Code string               `json:"code"`
	Data models.ReceiptQRData `json:"data"`
}

// renderQR encodes the receipt into a PNG at high error correction, so the
// printed receipt survives folding and smudging.
func renderQR(code string, rec models.ReceiptRecord) ([]byte, error) {
	payload, err := json.Marshal(qrPayload{Code: code, Data: rec.QRData()})
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(string(payload), qrcode.High, qrImageSize)
}

// DataURL renders a QR PNG as an inline data URL for direct embedding.
func DataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
