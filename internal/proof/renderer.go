// Package proof は会員証明トークンをQRコード画像に変換する。
package proof

import (
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/skip2/go-qrcode"
)

const (
	// moduleSize はQRコード1モジュールあたりのピクセル数。
	moduleSize = 10
)

// Renderer は検証URLを埋め込んだQRコードを生成する。
// 入力トークンと固定の検証URLのみに依存する純粋な処理で、状態を持たない。
type Renderer struct {
	verifyURL string
}

// NewRenderer はRendererを生成する。
// verifyURLは検証エンドポイントの絶対URL（例: "https://members.example.org/verify"）。
func NewRenderer(verifyURL string) (*Renderer, error) {
	u, err := url.Parse(verifyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid verify URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("verify URL must be absolute: %q", verifyURL)
	}
	return &Renderer{verifyURL: verifyURL}, nil
}

// VerifyURL はトークンを埋め込んだ検証URLを返す。
func (r *Renderer) VerifyURL(token string) string {
	return r.verifyURL + "?token=" + url.QueryEscape(token)
}

// RenderPNG は検証URLをQRコードにエンコードしたPNGを返す。
// 誤り訂正レベルはL（約7%の欠損に耐える）、余白は4モジュール。
func (r *Renderer) RenderPNG(token string) ([]byte, error) {
	q, err := qrcode.New(r.VerifyURL(token), qrcode.Low)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	// 負のサイズはモジュール単位の固定ピクセル数を意味する
	png, err := q.PNG(-moduleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return png, nil
}

// Render はQRコードPNGをbase64エンコードして返す。
// ブラウザ側で data:image/png;base64, に連結して表示する。
func (r *Renderer) Render(token string) ([]byte, error) {
	png, err := r.RenderPNG(token)
	if err != nil {
		return nil, err
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(len(png)))
	base64.StdEncoding.Encode(out, png)
	return out, nil
}
