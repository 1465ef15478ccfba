package cloud

// Wire types for the cloud JSON API. Field names follow the remote service's
// camelCase schema; nothing outside this package depends on them.

type randomCodeRequest struct {
	CountryCode int    `json:"countryCode"`
	Account     string `json:"account"`
}

type randomCodeResponse struct {
	RandomCode string `json:"randomCode"`
	Timestamp  string `json:"timestamp"`
}

type loginRequest struct {
	CountryCode int    `json:"countryCode"`
	Account     string `json:"account"`
	Password    string `json:"password"`
	Browser     string `json:"browser"`
	Equipment   int    `json:"equipment"`
	LoginMethod int    `json:"loginMethod"`
	Timestamp   string `json:"timestamp"`
	Language    string `json:"language"`
}

type loginResponse struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
	Token     string `json:"token"`
}

type queryUserRequest struct {
	CountryCode int    `json:"countryCode"`
	Account     string `json:"account"`
}

type queryUserResponse struct {
	Success    bool   `json:"success"`
	ErrorCode  string `json:"errorCode"`
	ErrorMsg   string `json:"errorMsg"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	FileServer string `json:"fileServer"`
}

type fileListRequest struct {
	DirectoryID int64  `json:"directoryId"`
	PageNo      int    `json:"pageNo"`
	PageSize    int    `json:"pageSize"`
	Order       string `json:"order"`
	Sequence    string `json:"sequence"`
}

type fileVO struct {
	ID          int64  `json:"id"`
	DirectoryID int64  `json:"directoryId"`
	FileName    string `json:"fileName"`
	Size        int64  `json:"size"`
	MD5         string `json:"md5"`
	IsFolder    string `json:"isFolder"` // "Y" or "N"
	CreateTime  int64  `json:"createTime"`
	UpdateTime  int64  `json:"updateTime"`
}

type fileListResponse struct {
	Success   bool     `json:"success"`
	ErrorCode string   `json:"errorCode"`
	ErrorMsg  string   `json:"errorMsg"`
	Total     int      `json:"total"`
	Size      int      `json:"size"`
	Pages     int      `json:"pages"`
	FileList  []fileVO `json:"userFileVOList"`
}

type downloadURLRequest struct {
	ID   int64 `json:"id"`
	Type int   `json:"type"`
}

type downloadURLResponse struct {
	Success   bool   `json:"success"`
	ErrorCode string `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
	URL       string `json:"url"`
}
