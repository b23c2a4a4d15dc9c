package api

import (
	"errors"
	"html/template"
	"net/http"

	"yoyaku/internal/domain"
)

const (
	msgConfirmed    = "予約を承認しました。"
	msgDenied       = "予約を拒否しました。"
	msgProcessed    = "この予約はすでに処理済みです。"
	msgNotFound     = "予約が見つかりません。"
	msgConflict     = "この時間帯はすでに埋まっています。"
	msgCouponUsed   = "この予約のクーポンはすでに使用済みです。"
	msgInvalidLink  = "リンクが正しくありません。"
	msgRateLimited  = "しばらく時間をおいてから再度お試しください。"
	msgInternalFail = "処理中にエラーが発生しました。"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>{{.}}</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 48px 16px;">
<p style="font-size: 18px;">{{.}}</p>
</body>
</html>
`))

func pageMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidState):
		return msgProcessed
	case errors.Is(err, domain.ErrNotFound):
		return msgNotFound
	case errors.Is(err, domain.ErrConflict):
		return msgConflict
	case errors.Is(err, domain.ErrCouponUsed):
		return msgCouponUsed
	case errors.Is(err, domain.ErrValidation):
		return msgInvalidLink
	case errors.Is(err, domain.ErrRateLimited):
		return msgRateLimited
	default:
		return msgInternalFail
	}
}

func writePage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, message)
}
