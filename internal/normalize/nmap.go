package normalize

import (
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

// summarizeNmapXML extracts host and open-port counts from `nmap -oX` output.
// It returns false for anything that is not an nmaprun document.
func summarizeNmapXML(output string) (map[string]string, bool) {
	trimmed := strings.TrimSpace(output)
	if !strings.HasPrefix(trimmed, "<") {
		return nil, false
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromString(trimmed); err != nil {
		return nil, false
	}
	root := doc.Root()
	if root == nil || root.Tag != "nmaprun" {
		return nil, false
	}

	hostsUp := 0
	var open []string
	for _, host := range root.SelectElements("host") {
		if status := host.SelectElement("status"); status != nil && status.SelectAttrValue("state", "") == "up" {
			hostsUp++
		}
		ports := host.SelectElement("ports")
		if ports == nil {
			continue
		}
		for _, port := range ports.SelectElements("port") {
			state := port.SelectElement("state")
			if state == nil || state.SelectAttrValue("state", "") != "open" {
				continue
			}
			entry := port.SelectAttrValue("portid", "?") + "/" + port.SelectAttrValue("protocol", "tcp")
			if svc := port.SelectElement("service"); svc != nil {
				if name := svc.SelectAttrValue("name", ""); name != "" {
					entry += " " + name
				}
			}
			open = append(open, entry)
		}
	}

	summary := map[string]string{
		"hosts_up":   strconv.Itoa(hostsUp),
		"open_ports": "none",
	}
	if len(open) > 0 {
		summary["open_ports"] = strings.Join(open, ", ")
	}
	return summary, true
}
