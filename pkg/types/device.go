package types

// ForegroundApp is the package/activity pair currently holding window focus
type ForegroundApp struct {
	Package  string `json:"package"`
	Activity string `json:"activity"`
}

// Component returns the "package/activity" form used by dumpsys and am start
func (f ForegroundApp) Component() string {
	if f.Activity == "" {
		return f.Package
	}
	return f.Package + "/" + f.Activity
}

// FailReason names the first safety check that did not pass
type FailReason string

const (
	ReasonNone               FailReason = ""
	ReasonPackageMismatch    FailReason = "packageMismatch"
	ReasonDeniedScreen       FailReason = "deniedScreen"
	ReasonUINotPresent       FailReason = "uiNotPresent"
	ReasonDeviceLocked       FailReason = "deviceLocked"
	ReasonBackendUnavailable FailReason = "backendUnavailable"
)

// VerificationResult is computed fresh on every verification call and never cached
type VerificationResult struct {
	PackageOK     bool          `json:"packageOk"`
	ActivityOK    bool          `json:"activityOk"`
	UIPresentOK   bool          `json:"uiPresentOk"`
	UnlockedOK    bool          `json:"unlockedOk"`
	OverallOK     bool          `json:"overallOk"`
	FailingReason FailReason    `json:"failingReason,omitempty"`
	Detail        string        `json:"detail,omitempty"`
	Foreground    ForegroundApp `json:"foreground"`
	CheckedAt     int64         `json:"checkedAt"` // unix ms
}
