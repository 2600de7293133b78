package email

import (
	"fmt"
	"html"
)

// NotificationHTML returns the HTML body for a new post notification.
func NotificationHTML(postURL string, siteName string) string {
	url := html.EscapeString(postURL)
	name := html.EscapeString(siteName)
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>New post</title>
</head>
<body style="margin:0;padding:0;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;background-color:#f4f5f7;">
<table width="100%%" cellpadding="0" cellspacing="0" style="background-color:#f4f5f7;padding:40px 0;">
<tr><td align="center">
<table width="480" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:8px;overflow:hidden;box-shadow:0 2px 8px rgba(0,0,0,0.08);">
  <tr><td style="padding:32px 40px 16px;text-align:center;">
    <h2 style="margin:0;font-size:22px;color:#1a1a2e;">Hello!</h2>
  </td></tr>
  <tr><td style="padding:0 40px;">
    <p style="margin:0 0 24px;font-size:15px;color:#4a4a68;line-height:1.6;">
      <strong>%s</strong> just published a new post. You are warmly invited to read it.
    </p>
  </td></tr>
  <tr><td style="padding:0 40px 32px;text-align:center;">
    <a href="%s" style="background-color:#4CAF50;color:#ffffff;padding:10px 20px;text-decoration:none;border-radius:5px;">Read the post</a>
  </td></tr>
  <tr><td style="padding:16px 40px;background-color:#f9f9fc;border-top:1px solid #eeeef2;">
    <p style="margin:0;font-size:12px;color:gray;text-align:center;">
      If you no longer want these notifications, reply to this email and let us know.
    </p>
  </td></tr>
</table>
</td></tr>
</table>
</body>
</html>`, name, url)
}

// NotificationText returns the plain-text body for a new post notification.
func NotificationText(postURL string, siteName string) string {
	return fmt.Sprintf(`Hello!

%s just published a new post. You are warmly invited to read it:

%s

If you no longer want these notifications, reply to this email and let us know.`, siteName, postURL)
}
