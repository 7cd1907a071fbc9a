package web

import (
	"fmt"
	"io"
	"strings"
)

// renderTemplate streams tpl to w, replacing %key% markers through lookup.
// Markers without a closing percent sign are emitted verbatim, and unknown
// keys render as empty strings.
func renderTemplate(w io.Writer, tpl string, lookup func(key string) string) error {
	for len(tpl) > 0 {
		open := strings.IndexByte(tpl, '%')
		if open < 0 {
			_, err := io.WriteString(w, tpl)
			return err
		}

		if _, err := io.WriteString(w, tpl[:open]); err != nil {
			return err
		}

		rest := tpl[open+1:]
		closing := strings.IndexByte(rest, '%')
		if closing < 0 {
			_, err := io.WriteString(w, tpl[open:])
			return err
		}

		if val := lookup(rest[:closing]); val != "" {
			if _, err := io.WriteString(w, val); err != nil {
				return err
			}
		}
		tpl = rest[closing+1:]
	}
	return nil
}

func footer() string {
	return "<footer><p>&copy; TheMiNuS</p></footer>"
}

func htmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#39;",
	)
	return r.Replace(s)
}

const htmlRoot = `<!DOCTYPE html>
<html>
    <head>
        <title>The MiNuS OS</title>
        <meta name='viewport' content='width=device-width, initial-scale=1'>
        <meta http-equiv='refresh' content='5;url=/'>
        <link rel="stylesheet" href="styles.css">
    </head>
    <body>
        <h1>The MiNuS OS</h1>
        <div class='home-button-container'>
            <a class='button' href='/module-configuration'>Module Configuration</a>
            <a class='button' href='/sysinfo'>System infos</a>
            <fieldset>
                <legend>Status</legend>
                <div class='form-group'>
                    <p> %CurrentDate% - %CurrentTime% </p>
                    <p> Firmware %FirmwareVersion% </p>
                </div>
            </fieldset>
        </div>
        %COPYRIGHT%
    </body>
</html>
`

const htmlModuleConfiguration = `<!DOCTYPE html>
<html>
    <head>
        <meta charset='UTF-8'>
        <meta name='viewport' content='width=device-width, initial-scale=1'>
        <title>Module configuration</title>
        <meta http-equiv='refresh' content='120;url=/'>
        <link rel="stylesheet" href="styles.css">
    </head>
    <body>
        <h1>Module Configuration</h1>

        <form method='post' action='/wifi' class='config-form'>
            <fieldset>
                <legend>Wifi Configuration</legend>
                <div class='form-group'>
                    <label for='wifiSSID'>SSID:</label>
                    <input type='text' id='wifiSSID' name='wifiSSID' value='%wifi_ssid%'>
                </div>
                <div class='form-group'>
                    <label for='wifiPassword'>Wifi Password:</label>
                    <input type='password' id='wifiPassword' name='wifiPassword' value=''>
                </div>
            </fieldset>
            <fieldset>
                <legend>Web Interface Configuration</legend>
                <div class='form-group'>
                    <label for='httpLogin'>Login:</label>
                    <input type='text' id='httpLogin' name='httpLogin' value='%http_login%'>
                </div>
                <div class='form-group'>
                    <label for='httpPassword'>Password:</label>
                    <input type='password' id='httpPassword' name='httpPassword' value=''>
                </div>
                <div class='form-group'>
                    <label for='hostname'>Hostname:</label>
                    <input type='text' id='hostname' name='hostname' value='%hostname%'>
                </div>
            </fieldset>
            <fieldset>
                <legend>MQTT Configuration</legend>
                <div class='form-group'>
                    <label for='mqttHost'>Host:</label>
                    <input type='text' id='mqttHost' name='mqttHost' value='%mqtt_host%'>
                </div>
                <div class='form-group'>
                    <label for='mqttPort'>Port:</label>
                    <input type='text' id='mqttPort' name='mqttPort' value='%mqtt_port%'>
                </div>
                <div class='form-group'>
                    <label for='mqttLogin'>Login:</label>
                    <input type='text' id='mqttLogin' name='mqttLogin' value='%mqtt_login%'>
                </div>
                <div class='form-group'>
                    <label for='mqttPassword'>Password:</label>
                    <input type='password' id='mqttPassword' name='mqttPassword' value=''>
                </div>
            </fieldset>
            <div class='config-button-container'>
                <a href='/' class='button'>Go Back</a>
                <input type='submit' class='button' value='Save'>
            </div>
        </form>

        <form class='config-form' onsubmit='return false;'>
            <fieldset>
                <legend>Firmware update</legend>
                <div class='form-group'>
                    <input id='update' type='file' accept='.bin,application/octet-stream'>
                </div>
                <div class='config-button-container'>
                    <button type='button' class='button' onclick='mn_do_update()'>Firmware Update</button>
                </div>
                <div class='form-group'>
                    <small id='update_status'>Select a .bin then click Firmware Update.</small>
                </div>
            </fieldset>
        </form>

        <script>
        async function mn_do_update() {
            const f = document.getElementById('update').files[0];
            const st = document.getElementById('update_status');
            if (!f) { st.textContent = 'No file selected.'; return; }

            st.textContent = 'Uploading... do not close this page.';

            try {
                const res = await fetch('/doUpdate', {
                    method: 'POST',
                    headers: { 'Content-Type': 'application/octet-stream' },
                    body: f
                });

                const txt = await res.text().catch(() => '');
                if (!res.ok) {
                    st.textContent = 'Upload failed: HTTP ' + res.status + ' ' + txt;
                    return;
                }
                st.textContent = 'Upload OK. Device is rebooting...';
            } catch (e) {
                st.textContent = 'Upload error: ' + (e && e.message ? e.message : e);
            }
        }
        </script>

        <form method='POST' action='/factory-reset' class='config-form'>
            <fieldset>
                <legend>Factory Reset</legend>
                <div class='config-button-container'>
                    <input type='submit' class='button' value='Factory Reset'>
                </div>
            </fieldset>
        </form>

        %COPYRIGHT%
    </body>
</html>
`

const htmlApplyConfiguration = `<!DOCTYPE html>
<html>
    <head>
        <meta name='viewport' content='width=device-width, initial-scale=1'>
        <link rel="stylesheet" href="styles.css">
        <title>Push Configuration to Flash and Reboot</title>
    </head>
    <body>
        <div id="loading">
            <div class="spinner"></div>
            <p>Applying configuration...</p>
        </div>
        <script>
            setTimeout(function () {
                window.location.href = '/';
            }, 3000);
        </script>
    </body>
</html>
`

const htmlSysinfoHead = `<!DOCTYPE html>
<html>
    <head>
        <meta charset='UTF-8'>
        <meta name='viewport' content='width=device-width, initial-scale=1'>
        <title>System infos</title>
        <link rel='stylesheet' href='styles.css'>
    </head>
    <body>
        <h1>System infos</h1>
        <div class='config-details'>
`

const htmlSysinfoTail = `        </div>
        <p><a class='button' href='/'>Back</a></p>
    </body>
</html>
`

func sysinfoGroup(title string, lines []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<div class='config-group'><h2>%s</h2>", htmlEscape(title))
	for _, line := range lines {
		fmt.Fprintf(&b, "<p>%s</p>", htmlEscape(line))
	}
	b.WriteString("</div>")
	return b.String()
}

const cssStyles = `body {
    background-color: #080808;
    color: #D4D4D4;
    font-family: Arial, sans-serif;
    text-align: center;
    display: flex;
    flex-direction: column;
    justify-content: flex-start;
    align-items: center;
    min-height: 100vh;
    margin: 0;
    padding-bottom: 60px;
}

*, *::before, *::after {
    box-sizing: border-box;
    background-color: #080808;
    color: #FFFFFF;
    border-color: #252526;
}

.button {
    padding: 15px 30px;
    background-color: #333;
    text-decoration: none;
    font-size: 18px;
    margin: 10px;
    border-radius: 5px;
    transition: background-color 0.3s ease;
}

.button:hover {
    background-color: #021e70;
}

.config-form {
    width: 80%;
    max-width: 400px;
    margin: 0 auto;
}

fieldset {
    border-radius: 10px;
    padding: 10px;
    margin-bottom: 20px;
}

legend {
    font-weight: bold;
    text-align: center;
}

.form-group {
    text-align: left;
}

.form-group label {
    display: block;
    font-weight: bold;
    margin-bottom: 5px;
    margin-top: 10px;
}

.form-group input,
.form-group select {
    width: 100%;
    padding: 10px;
    border-radius: 5px;
    font-size: 16px;
    background-color: #1E1E1E;
    color: #D4D4D4;
}

.config-button-container {
    text-align: center;
}

.home-button-container {
    text-align: center;
}

.home-button-container .button {
    display: block;
}

.config-details {
    width: 80%;
    max-width: 600px;
    margin: 0 auto;
    text-align: left;
}

.config-group {
    border-radius: 5px;
    padding: 15px;
    margin-bottom: 20px;
}

.config-group h2 {
    font-size: 24px;
    margin-top: 0;
}

.config-group p {
    margin: 5px 0;
}

footer {
    position: fixed;
    bottom: 0;
    width: 100%;
    background-color: #1c1c1c;
    padding: 10px 0;
}

footer p {
    margin: 0;
    background-color: #1c1c1c;
    font-size: 14px;
}

#loading {
    display: flex;
    flex-direction: column;
    align-items: center;
    justify-content: center;
    height: 66vh;
}

#loading p {
    margin-bottom: 10px;
}

.spinner {
    width: 40px;
    height: 40px;
    border-radius: 50%;
    border: 4px solid #333;
    border-top: 4px solid transparent;
    animation: spin 2s linear infinite;
}

@keyframes spin {
    0% { transform: rotate(0deg); }
    100% { transform: rotate(360deg); }
}
`
