package consts

// UserIDKey gin.Context 与 request context 中当前登录用户的键
const UserIDKey = "user_id"
