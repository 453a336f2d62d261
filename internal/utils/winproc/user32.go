package winproc

import "golang.org/x/sys/windows"

var (
	USER32              = windows.NewLazySystemDLL("user32.dll")
	EnumWindows         = USER32.NewProc("EnumWindows")
	IsWindow            = USER32.NewProc("IsWindow")
	IsWindowVisible     = USER32.NewProc("IsWindowVisible")
	GetWindowText       = USER32.NewProc("GetWindowTextW")
	GetWindowTextLength = USER32.NewProc("GetWindowTextLengthW")
	SetProcessDpiAware  = USER32.NewProc("SetProcessDPIAware")
)
