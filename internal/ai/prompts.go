package ai

import (
	"fmt"
	"strings"
)

const gradingSystemPrompt = `你是《紅樓夢》閱讀課程的評分老師。請依據題目、原文與關鍵詞評估學生的回答。
只輸出 JSON，格式為 {"score": 0-100 的整數, "isRelevant": true 或 false, "feedback": "一至兩句繁體中文評語"}。
與題目無關、敷衍或重複字元的回答，score 不得高於 20 且 isRelevant 為 false。`

const feedbackSystemPrompt = `你是《紅樓夢》閱讀課程的老師。請以繁體中文寫出兩到三句鼓勵且具體的評語，
指出回答的優點與一個可以改進的方向。只輸出評語本身。`

func buildGradingPrompt(req GradeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "任務類型：%s\n難度：%s\n", req.TaskType, req.Difficulty)
	if req.Passage != "" {
		fmt.Fprintf(&b, "原文：\n%s\n", req.Passage)
	}
	fmt.Fprintf(&b, "題目：%s\n", req.Question)
	if len(req.ExpectedKeywords) > 0 {
		fmt.Fprintf(&b, "參考關鍵詞：%s\n", strings.Join(req.ExpectedKeywords, "、"))
	}
	if len(req.Rubric) > 0 {
		b.WriteString("評分要點：\n")
		for _, item := range req.Rubric {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	fmt.Fprintf(&b, "學生回答：\n%s\n", req.UserAnswer)
	return b.String()
}

func buildFeedbackPrompt(req GradeRequest, score int) string {
	return fmt.Sprintf("題目：%s\n學生回答：\n%s\n得分：%d/100\n", req.Question, req.UserAnswer, score)
}
