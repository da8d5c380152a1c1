package service

import (
	"fmt"
	"time"
)

func expiryNoticeEmailTemplate(fileURL string, expiresAt time.Time, appURL, appName string) (string, string) {
	subject := fmt.Sprintf("Your %s design expires soon", appName)
	body := fmt.Sprintf(`Hi,

One of your uploaded designs will be deleted on %s:
%s

Download it before then if you want to keep it. Converted PES and DST files
are removed together with the original.

Manage your files at %s

Best,
The %s Team`, expiresAt.UTC().Format("January 2, 2006 15:04 MST"), fileURL, appURL, appName)

	return subject, body
}
