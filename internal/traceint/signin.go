package traceint

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// The backend's sign-in endpoint expects the server-issued timestamp
// encrypted with this RSA public key (PKIX DER, base64).
const signPublicKeyB64 = "MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEA0dmmkW4xPa+HhBTyaa0dgAb0fVZRS67jK4y15BQthjJ/ZuUZQmrbGqhG7rwnxfm7g+nFH9zEyRU5KLX3ty9jpNrPjyg7FBF9OvBDYHEt83b77W3mfBjpmoTJOt27E7RZ4InHqJQjqSEo4bw1PDz2OBmtlNIlXMu0VA8I0Bh39hBBnm0oouRV7FdqEzAp8nsF7a3VuBYpx9xek+cRVip0pMXI1AXM6bmyWWNzV0oikQW4ZIbutgDziTMeW28zl/hRbW9Ht34w0sWYyxumuLr1qweW3qnxycn3zn47weFYe6nJp71z+lgVtNTGtowNPPqBLXqusvwf+uNhSy1wKQFpUwIDAQAB"

// sign-in response codes the backend treats as success
var signSuccessCodes = map[string]bool{"0": true, "200": true}

type beaconDevice struct {
	Minor     int     `json:"minor"`
	RSSI      int     `json:"rssi"`
	Major     int     `json:"major"`
	Proximity int     `json:"proximity"`
	Accuracy  float64 `json:"accuracy"`
	UUID      string  `json:"uuid"`
}

// SignIn performs the bluetooth-beacon proximity check-in using the
// secondary session identifier. The result message comes straight from
// the backend; classification is by response code only.
func (c *Client) SignIn(ctx context.Context, sessID string, major, minor int) (string, error) {
	ts, err := c.fetchServerTime(ctx, "")
	if err != nil {
		return "", &Error{Class: ClassTransport, Message: "获取时间戳失败: " + err.Error()}
	}
	pass, err := encryptTimestamp(ts)
	if err != nil {
		return "", fmt.Errorf("traceint: encrypt timestamp: %w", err)
	}

	devices, _ := json.Marshal([]beaconDevice{{
		Minor:     minor,
		RSSI:      -68,
		Major:     major,
		Proximity: 2,
		Accuracy:  1.4677992676220695,
		UUID:      "fda50693-a4e2-4fb1-afcf-c6eb07647825",
	}})

	form := url.Values{}
	form.Set("t", strings.TrimPrefix(sessID, "wechatSESS_ID="))
	form.Set("devices", string(devices))
	form.Set("pass", pass)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.signURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://servicewechat.com/wx3b9352e6b254ed2b/11/page-frame.html")

	res, err := c.hc.Do(req)
	if err != nil {
		return "", &Error{Class: ClassTransport, Message: err.Error()}
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	if res.StatusCode == http.StatusForbidden {
		return "", &Error{Class: ClassRestricted, Code: 403, Message: "Forbidden(403) 打卡被阻止"}
	}

	var msg struct {
		Code json.RawMessage `json:"code"`
		Msg  string          `json:"msg"`
	}
	_ = json.Unmarshal(body, &msg)
	code := rawScalar(msg.Code)
	if code == "403" {
		return "", &Error{Class: ClassRestricted, Code: 403, Message: "Forbidden(403) 打卡被阻止"}
	}
	if code != "" && !signSuccessCodes[code] {
		detail := msg.Msg
		if detail == "" {
			detail = string(body)
		}
		n, _ := strconv.Atoi(code)
		return "", &Error{Class: ClassUnknown, Code: n, Message: "签到失败: " + detail}
	}
	if msg.Msg != "" {
		return msg.Msg, nil
	}
	return string(body), nil
}

// KeepAliveSess touches the secondary session identifier so it does not
// expire silently. Failures carry no destructive consequence.
func (c *Client) KeepAliveSess(ctx context.Context, sessID string) error {
	_, err := c.fetchServerTime(ctx, "wechatSESS_ID="+strings.TrimPrefix(sessID, "wechatSESS_ID="))
	return err
}

func (c *Client) fetchServerTime(ctx context.Context, cookie string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.timeURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	res, err := c.hc.Do(req)
	if err != nil {
		return "", &Error{Class: ClassTransport, Message: err.Error()}
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return "", &Error{Class: ClassTransport, Code: res.StatusCode, Message: "http " + strconv.Itoa(res.StatusCode)}
	}
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encryptTimestamp(ts string) (string, error) {
	der, err := base64.StdEncoding.DecodeString(signPublicKeyB64)
	if err != nil {
		return "", err
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return "", err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return "", fmt.Errorf("sign key is not RSA")
	}
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, rsaPub, []byte(ts))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}
