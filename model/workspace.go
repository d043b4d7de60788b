package model

// Point 图片上的提示点，前端按原图尺寸缩放，坐标通常带小数
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SubmitPointsRequest 分割请求
type SubmitPointsRequest struct {
	Points []Point `json:"points"`
}

// EditRequest 编辑请求
type EditRequest struct {
	Prompt string `json:"prompt"`
}

// ImageIDResponse 上传或派生后返回的工作区ID
type ImageIDResponse struct {
	ImageID int64 `json:"image_id"`
}

// SegmentResponse 本轮抠图结果的访问链接，顺序与模型排名一致
type SegmentResponse struct {
	SegmentedImages []string `json:"segmented_images"`
}

// EditResponse 本轮编辑变体的访问链接
type EditResponse struct {
	EditedImages []string `json:"edited_images"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
