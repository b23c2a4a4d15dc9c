package notify

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"yoyaku/internal/models"
)

const autoReplyFooter = "※このメールは自動送信です。返信不要です。"

func courseLabel(c models.Course) string {
	if c.Valid() {
		return fmt.Sprintf("%d分", c.Minutes())
	}
	return c.String()
}

func (s Settings) actionURL(path, id string) string {
	return s.SiteURL + path + "?id=" + url.QueryEscape(id)
}

func (s Settings) approveURL(id string) string { return s.actionURL("/api/confirm", id) }
func (s Settings) denyURL(id string) string    { return s.actionURL("/api/deny", id) }

func (s Settings) mapURL() string {
	if s.MapAddress == "" {
		return ""
	}
	return "https://maps.google.com/?q=" + url.QueryEscape(s.MapAddress)
}

// omitted marks a line that joinLines drops. Blank strings stay as empty
// lines.
const omitted = "\x00"

func joinLines(lines ...string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != omitted {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// opt drops the line entirely when value is blank.
func opt(label, value string) string {
	if strings.TrimSpace(value) == "" {
		return omitted
	}
	return label + value
}

func (s Settings) adminConfirmMessage(r *models.Reservation) *models.EmailMessage {
	return &models.EmailMessage{
		To:      s.AdminTo,
		Subject: fmt.Sprintf("予約確定：%s %s", r.DateString(), r.StartTime),
		Text: joinLines(
			"【予約が確定しました】",
			"",
			"■ 予約内容",
			"予約ID："+r.ID,
			fmt.Sprintf("日時：%s %s〜%s", r.DateString(), r.StartTime, r.EndTime),
			"コース："+r.Course.String(),
			"名前："+r.Name,
			opt("電話：", r.Phone),
			opt("メール：", r.Email),
			fmt.Sprintf("料金：%d円", r.Price),
			opt("カレンダー：", r.CalendarEventID),
		),
	}
}

func (s Settings) customerConfirmMessage(r *models.Reservation) *models.EmailMessage {
	return &models.EmailMessage{
		To:      []string{r.Email},
		Subject: fmt.Sprintf("【%s】ご予約が確定しました", s.ShopName),
		Text: joinLines(
			s.ShopName+"をご予約いただきありがとうございます。",
			"ご予約が確定しました。",
			"",
			"■ ご予約内容",
			"日付："+r.DateString(),
			"時間："+r.StartTime,
			"コース："+courseLabel(r.Course),
			"お名前："+r.Name,
			opt("電話番号：", r.Phone),
			opt("メール：", r.Email),
			fmt.Sprintf("料金：%d円", r.Price),
			"予約ID："+r.ID,
			"",
			autoReplyFooter,
		),
	}
}

func (s Settings) customerDenyMessage(r *models.Reservation) *models.EmailMessage {
	return &models.EmailMessage{
		To:      []string{r.Email},
		Subject: fmt.Sprintf("【%s】ご予約の承認が見送りとなりました", s.ShopName),
		Text: joinLines(
			r.Name+" 様",
			"",
			"この度はご予約ありがとうございました。",
			"大変恐れ入りますが、",
			fmt.Sprintf("ご希望の %s %s はすでに予約枠が埋まっております。", r.DateString(), r.StartTime),
			"別の日時でのご予約をご検討いただけますと幸いです。",
			"",
			autoReplyFooter,
		),
	}
}

func (s Settings) adminCreatedMessage(r *models.Reservation) *models.EmailMessage {
	approve, deny, mapURL := s.approveURL(r.ID), s.denyURL(r.ID), s.mapURL()

	text := joinLines(
		"【新規予約が入りました】",
		"",
		"■ 予約内容",
		"予約ID："+r.ID,
		fmt.Sprintf("日時：%s %s", r.DateString(), r.StartTime),
		"コース："+r.Course.String(),
		"名前："+r.Name,
		"電話："+r.Phone,
		opt("メール：", r.Email),
		opt("備考：", r.Notes),
		fmt.Sprintf("料金：%d円", r.Price),
		opt("クーポン：", r.CouponCode),
		"",
		"▼承認/拒否",
		"承認: "+approve,
		"拒否: "+deny,
		opt("\n▼店舗地図\n", mapURL),
	)

	var b strings.Builder
	b.WriteString("<div>\n<b>【新規予約】</b><br/>\n")
	fmt.Fprintf(&b, "予約ID: %s<br/>\n", html.EscapeString(r.ID))
	fmt.Fprintf(&b, "日時: %s %s<br/>\n", r.DateString(), r.StartTime)
	fmt.Fprintf(&b, "コース: %s<br/>\n", r.Course)
	fmt.Fprintf(&b, "名前: %s<br/>\n", html.EscapeString(r.Name))
	fmt.Fprintf(&b, "電話: %s<br/>\n", html.EscapeString(r.Phone))
	if r.HasEmail() {
		fmt.Fprintf(&b, "メール: %s<br/>\n", html.EscapeString(r.Email))
	}
	fmt.Fprintf(&b, "料金: %d円<br/>\n<br/>\n", r.Price)
	b.WriteString("<b>▼承認/拒否</b><br/>\n")
	fmt.Fprintf(&b, "<a href=\"%s\">[承認]</a>\n", html.EscapeString(approve))
	fmt.Fprintf(&b, "<a href=\"%s\" style=\"margin-left:10px;\">[拒否]</a>\n", html.EscapeString(deny))
	if mapURL != "" {
		b.WriteString("<br/><br/>\n<b>▼店舗地図</b><br/>\n")
		fmt.Fprintf(&b, "<a href=\"%s\" target=\"_blank\" rel=\"noreferrer\">Googleマップで開く</a>\n", html.EscapeString(mapURL))
	}
	b.WriteString("</div>")

	return &models.EmailMessage{
		To:      s.AdminTo,
		Subject: fmt.Sprintf("新規予約：%s %s", r.DateString(), r.StartTime),
		Text:    text,
		HTML:    b.String(),
	}
}

func (s Settings) customerCreatedMessage(r *models.Reservation) *models.EmailMessage {
	cancel, mapURL := s.denyURL(r.ID), s.mapURL()

	return &models.EmailMessage{
		To:      []string{r.Email},
		Subject: fmt.Sprintf("【%s】ご予約ありがとうございます（自動返信）", s.ShopName),
		Text: joinLines(
			s.ShopName+"をご予約いただきありがとうございます。",
			"ただいま予約内容を確認しております。確定しましたら改めてご連絡いたします。",
			"",
			"■ ご予約内容",
			"日付："+r.DateString(),
			"時間："+r.StartTime,
			"コース："+courseLabel(r.Course),
			"お名前："+r.Name,
			"電話番号："+r.Phone,
			"メール："+r.Email,
			fmt.Sprintf("料金：%d円", r.Price),
			"予約ID："+r.ID,
			opt("\n▼店舗地図\n", mapURL),
			"",
			"▼ご予約のキャンセルはこちらから",
			cancel,
			"",
			autoReplyFooter,
			"変更・キャンセルは必ず上記リンクからお願いします。",
		),
	}
}

func (s Settings) createdAlert(r *models.Reservation) string {
	return joinLines(
		"<b>新規予約</b>",
		fmt.Sprintf("日時: %s %s〜%s", r.DateString(), r.StartTime, r.EndTime),
		"コース: "+r.Course.String(),
		"名前: "+html.EscapeString(r.Name),
		"電話: "+html.EscapeString(r.Phone),
		fmt.Sprintf("料金: %d円", r.Price),
		fmt.Sprintf(`<a href="%s">承認</a> | <a href="%s">拒否</a>`,
			html.EscapeString(s.approveURL(r.ID)), html.EscapeString(s.denyURL(r.ID))),
	)
}
